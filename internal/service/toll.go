package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/events"
	"willsave/internal/host"
	"willsave/internal/logger"
)

// ErrInvalidURL is returned for redirect targets that are not web URLs.
var ErrInvalidURL = errors.New("invalid url")

// SelfTab addresses the tab this context runs in rather than a caller's tab.
const SelfTab = -1

// TollView is what the toll page shows.
type TollView struct {
	Currency       int    `json:"currency"`
	DefaultMinutes int    `json:"defaultMinutes"`
	CanPay         bool   `json:"canPay"`
	TargetHost     string `json:"targetHost,omitempty"`
	NeedsSetup     bool   `json:"needsSetup"`
}

// Payment is the outcome of a successful toll payment.
type Payment struct {
	Currency     int       `json:"currency"`
	SessionUntil time.Time `json:"sessionUntil"`
}

// Toll implements the paywall page actions.
type Toll struct {
	rt      host.Runtime
	access  *datastore.Access
	hub     *events.Hub
	mineURL string
	log     *zap.Logger
}

// NewToll creates the toll operations. mineURL is where "earn more" sends
// the user.
func NewToll(rt host.Runtime, access *datastore.Access, hub *events.Hub, mineURL string, log *zap.Logger) *Toll {
	return &Toll{
		rt:      rt,
		access:  access,
		hub:     hub,
		mineURL: mineURL,
		log:     logger.OrNop(log).Named("Toll"),
	}
}

// View loads the toll page for the blocked page referrer. Loading it asks
// for a currency refresh, and sends unlinked users to the options page.
func (t *Toll) View(ctx context.Context, referrer string) (TollView, error) {
	currency, err := t.access.GetCurrency(ctx)
	if err != nil {
		return TollView{}, err
	}
	minutes, err := t.access.GetDefaultTime(ctx)
	if err != nil {
		return TollView{}, err
	}
	username, err := t.access.GetDuolingoUsername(ctx)
	if err != nil {
		return TollView{}, err
	}

	view := TollView{
		Currency:       currency,
		DefaultMinutes: minutes,
		CanPay:         currency > 0,
		NeedsSetup:     username == "",
	}
	if referrer != "" {
		if u, err := url.Parse(referrer); err == nil {
			view.TargetHost = u.Hostname()
		}
	}

	if view.NeedsSetup {
		if err := t.rt.OpenOptionsPage(ctx); err != nil {
			t.log.Error("open options failed", zap.Error(err))
		}
	}
	if err := t.hub.RequestCurrencyUpdate(ctx); err != nil {
		t.log.Error("currency update request failed", zap.Error(err))
	}
	return view, nil
}

// Pay spends amount units of currency for a fresh session worth that many
// units. On platforms where the toll page runs in its own tab, tabID is
// closed afterwards.
func (t *Toll) Pay(ctx context.Context, amount, tabID int) (Payment, error) {
	if amount <= 0 {
		return Payment{}, fmt.Errorf("enter a number greater than 0: %w", datastore.ErrInvalidAmount)
	}

	remaining, err := t.access.DecrementCurrency(ctx, amount)
	if errors.Is(err, datastore.ErrInsufficientCurrency) {
		t.log.Error("not enough gems", zap.Int("balance", remaining), zap.Int("amount", amount))
		return Payment{Currency: remaining}, err
	}
	if err != nil {
		return Payment{}, err
	}

	until, err := t.access.GiveTime(ctx, amount)
	if err != nil {
		t.log.Error("currency spent but no session granted",
			zap.Int("lost", amount), zap.Int("balance", remaining), zap.Error(err))
		return Payment{Currency: remaining}, fmt.Errorf("grant session: %w", err)
	}
	t.log.Info("session granted", zap.Time("until", until), zap.Int("balance", remaining))

	if t.rt.Name() == host.SecondaryPlatform {
		if err := t.closeTab(ctx, tabID); err != nil {
			t.log.Error("close toll tab failed", zap.Int("tab", tabID), zap.Error(err))
		}
	}
	return Payment{Currency: remaining, SessionUntil: until}, nil
}

// Mine sends tabID to the lesson site.
func (t *Toll) Mine(ctx context.Context, tabID int) error {
	return t.Redirect(ctx, tabID, t.mineURL)
}

// Redirect sends tabID to target. Links inside an embedded toll frame cannot
// navigate the page themselves.
func (t *Toll) Redirect(ctx context.Context, tabID int, target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("redirect target %q: %w", target, ErrInvalidURL)
	}
	if tabID == SelfTab {
		return t.hub.RequestRedirect(ctx, u.String())
	}
	return t.hub.RequestRedirectForTab(ctx, tabID, u.String())
}

func (t *Toll) closeTab(ctx context.Context, tabID int) error {
	if tabID == SelfTab {
		return t.rt.CloseCurrentTab(ctx)
	}
	return t.rt.CloseTab(ctx, tabID)
}
