package datastore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"willsave/internal/logger"
)

const (
	DefaultMinutesPerCurrency = 10
	DefaultCurrencyPerLesson  = 1
	// UninitializedPoints marks a checkpoint that was never set up.
	UninitializedPoints = -1
)

var (
	// ErrInsufficientCurrency is returned when a spend exceeds the balance.
	ErrInsufficientCurrency = errors.New("not enough currency to spend")
	// ErrInvalidAmount is returned for non-positive amounts and settings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Access composes datastore keys into domain operations. The store has no
// transactions: every operation is a read-then-write sequence, and
// concurrent calls from different contexts may lose updates.
type Access struct {
	store *Datastore
	now   func() time.Time
	log   *zap.Logger
}

// NewAccess creates the domain layer over store.
func NewAccess(store *Datastore, log *zap.Logger) *Access {
	return &Access{
		store: store,
		now:   time.Now,
		log:   logger.OrNop(log).Named("DatastoreAccess"),
	}
}

// Store returns the underlying datastore.
func (a *Access) Store() *Datastore {
	return a.store
}

// GetCurrency returns the current balance.
func (a *Access) GetCurrency(ctx context.Context) (int, error) {
	return Get(ctx, a.store, CurrencyCount, 0)
}

// IncrementCurrency credits times lessons worth of currency and returns the
// new balance.
func (a *Access) IncrementCurrency(ctx context.Context, times int) (int, error) {
	gain, err := a.GetCurrencyPerLesson(ctx)
	if err != nil {
		return 0, err
	}
	currency, err := a.GetCurrency(ctx)
	if err != nil {
		return 0, err
	}

	newLevel := currency + gain*times
	if err := a.store.Set(ctx, CurrencyCount, newLevel); err != nil {
		return 0, err
	}
	a.log.Info("currency credited", zap.Int("lessons", times), zap.Int("balance", newLevel))
	return newLevel, nil
}

// DecrementCurrency spends amount if the balance covers it and returns the
// new balance. Otherwise it returns ErrInsufficientCurrency and writes
// nothing.
func (a *Access) DecrementCurrency(ctx context.Context, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	currency, err := a.GetCurrency(ctx)
	if err != nil {
		return 0, err
	}
	if currency < amount {
		return currency, ErrInsufficientCurrency
	}

	newCurrency := currency - amount
	if err := a.store.Set(ctx, CurrencyCount, newCurrency); err != nil {
		return 0, err
	}
	return newCurrency, nil
}

// GetAndSubscribeToCurrency calls fn with the current balance, then again
// on every later change.
func (a *Access) GetAndSubscribeToCurrency(ctx context.Context, fn func(currency int)) error {
	currency, err := a.GetCurrency(ctx)
	if err != nil {
		return err
	}
	fn(currency)
	OnChange(a.store, CurrencyCount, 0, func(newValue, _ int) {
		fn(newValue)
	})
	return nil
}

// GiveDefaultTime starts a session lasting the configured minutes from now.
// It replaces any running session rather than extending it.
func (a *Access) GiveDefaultTime(ctx context.Context) (time.Time, error) {
	return a.GiveTime(ctx, 1)
}

// GiveTime starts a session worth units of currency from now, replacing
// any running session.
func (a *Access) GiveTime(ctx context.Context, units int) (time.Time, error) {
	if units <= 0 {
		return time.Time{}, ErrInvalidAmount
	}
	minutes, err := a.GetDefaultTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	until := a.now().Add(time.Duration(units*minutes) * time.Minute)
	if err := a.store.Set(ctx, CurrentSessionValidUntil, until.UnixMilli()); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// GetSessionExpiry returns the end of the paid session; the zero Unix time
// when none was ever granted.
func (a *Access) GetSessionExpiry(ctx context.Context) (time.Time, error) {
	ts, err := Get[int64](ctx, a.store, CurrentSessionValidUntil, 0)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ts), nil
}

// GetMillisecondsToSessionExpiration returns expiry minus now. Negative
// means there is no active session.
func (a *Access) GetMillisecondsToSessionExpiration(ctx context.Context) (int64, error) {
	ts, err := Get[int64](ctx, a.store, CurrentSessionValidUntil, 0)
	if err != nil {
		return 0, err
	}
	return ts - a.now().UnixMilli(), nil
}

// SubscribeToSession calls fn with the new expiry whenever a session is granted.
func (a *Access) SubscribeToSession(fn func(until time.Time)) {
	OnChange(a.store, CurrentSessionValidUntil, int64(0), func(newValue, _ int64) {
		fn(time.UnixMilli(newValue))
	})
}

// GetDefaultTime returns minutes granted per unit of currency.
func (a *Access) GetDefaultTime(ctx context.Context) (int, error) {
	return Get(ctx, a.store, MinutesPerCurrency, DefaultMinutesPerCurrency)
}

// SetDefaultTime sets minutes granted per unit of currency.
func (a *Access) SetDefaultTime(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("minutes per currency: %w", ErrInvalidAmount)
	}
	return a.store.Set(ctx, MinutesPerCurrency, minutes)
}

// GetCurrencyPerLesson returns currency earned per completed lesson.
func (a *Access) GetCurrencyPerLesson(ctx context.Context) (int, error) {
	return Get(ctx, a.store, CurrencyPerReview, DefaultCurrencyPerLesson)
}

// SetCurrencyPerLesson sets currency earned per completed lesson.
func (a *Access) SetCurrencyPerLesson(ctx context.Context, gain int) error {
	if gain <= 0 {
		return fmt.Errorf("currency per lesson: %w", ErrInvalidAmount)
	}
	return a.store.Set(ctx, CurrencyPerReview, gain)
}

// GetBlockList returns the blocklist patterns.
func (a *Access) GetBlockList(ctx context.Context) ([]string, error) {
	return Get(ctx, a.store, BlackList, []string{})
}

// SetBlockList stores patterns with blanks and duplicates removed, keeping
// first-seen order.
func (a *Access) SetBlockList(ctx context.Context, patterns []string) error {
	cleaned := lo.Uniq(lo.FilterMap(patterns, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	}))
	return a.store.Set(ctx, BlackList, cleaned)
}

// GetDuolingoUsername returns the linked account, "" when unconfigured.
func (a *Access) GetDuolingoUsername(ctx context.Context) (string, error) {
	return Get(ctx, a.store, DuolingoUsername, "")
}

// SetDuolingoUsernameAndInitializeInventory links an account and moves the
// checkpoint to its current total so past points are not credited.
func (a *Access) SetDuolingoUsernameAndInitializeInventory(ctx context.Context, name string, initialPoints int) error {
	if err := a.store.Set(ctx, DuolingoUsername, name); err != nil {
		return err
	}
	return a.SetLastCheckPoints(ctx, initialPoints)
}

// GetLastCheckPoints returns the checkpoint, UninitializedPoints if unset.
func (a *Access) GetLastCheckPoints(ctx context.Context) (int, error) {
	return Get(ctx, a.store, DuolingoLastCheckPoints, UninitializedPoints)
}

// SetLastCheckPoints stores the checkpoint.
func (a *Access) SetLastCheckPoints(ctx context.Context, points int) error {
	return a.store.Set(ctx, DuolingoLastCheckPoints, points)
}

// IsBlocked reports whether pageURL matches the stored blocklist.
func (a *Access) IsBlocked(ctx context.Context, pageURL string) (bool, error) {
	patterns, err := a.GetBlockList(ctx)
	if err != nil {
		return false, err
	}
	return MatchesBlockList(patterns, pageURL, a.log), nil
}

// MatchesBlockList matches pageURL case-insensitively against patterns.
// Duolingo itself is never blocked; invalid patterns are skipped.
func MatchesBlockList(patterns []string, pageURL string, log *zap.Logger) bool {
	if u, err := url.Parse(pageURL); err == nil && isDuolingoHost(u.Hostname()) {
		return false
	}

	return lo.ContainsBy(patterns, func(p string) bool {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.OrNop(log).Warn("skipping invalid blocklist pattern", zap.String("pattern", p), zap.Error(err))
			return false
		}
		return re.MatchString(pageURL)
	})
}

func isDuolingoHost(host string) bool {
	host = strings.ToLower(host)
	return host == "duolingo.com" || strings.HasSuffix(host, ".duolingo.com")
}
