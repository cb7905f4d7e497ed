package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/duolingo"
	"willsave/internal/events"
	"willsave/internal/host"
	"willsave/internal/logger"
)

// Background wires hub requests to the runtime and the currency updater.
type Background struct {
	rt            host.Runtime
	access        *datastore.Access
	hub           *events.Hub
	updater       *CurrencyUpdater
	newTabSpacing time.Duration
	now           func() time.Time
	log           *zap.Logger

	mu      sync.Mutex
	lastTab time.Time

	balance prometheus.Gauge
}

// NewBackground creates the background handlers. New tab requests closer
// than newTabSpacing to the previous one are dropped.
func NewBackground(rt host.Runtime, access *datastore.Access, hub *events.Hub, updater *CurrencyUpdater, newTabSpacing time.Duration, promRegistry prometheus.Registerer, log *zap.Logger) *Background {
	b := &Background{
		rt:            rt,
		access:        access,
		hub:           hub,
		updater:       updater,
		newTabSpacing: newTabSpacing,
		now:           time.Now,
		log:           logger.OrNop(log).Named("Background"),
	}
	if promRegistry != nil {
		b.balance = promauto.With(promRegistry).NewGauge(prometheus.GaugeOpts{
			Name: "willsave_currency_balance",
			Help: "current currency balance",
		})
	}
	return b
}

// Start registers the handlers. ctx bounds the work they trigger.
func (b *Background) Start(ctx context.Context) error {
	if err := b.rt.RunOnFirstInstall(ctx, func() {
		b.log.Info("was installed")
		b.openOptionsIfUnlinked(ctx)
	}); err != nil {
		return err
	}

	b.hub.OnCurrencyUpdate(func() {
		b.updater.Update(ctx)
	})

	b.hub.OnRedirect(func(url string, tabID int) {
		if err := b.rt.RedirectTab(ctx, tabID, url); err != nil {
			b.log.Error("redirect failed", zap.Int("tab", tabID), zap.Error(err))
		}
	})

	b.hub.OnRequestNewTab(func(url string) {
		if !b.allowNewTab() {
			b.log.Debug("dropping new tab request", zap.String("url", url))
			return
		}
		if err := b.rt.OpenTab(ctx, url); err != nil {
			b.log.Error("open tab failed", zap.Error(err))
		}
	})

	return b.access.GetAndSubscribeToCurrency(ctx, func(currency int) {
		b.log.Debug("currency changed", zap.Int("balance", currency))
		if b.balance != nil {
			b.balance.Set(float64(currency))
		}
	})
}

// WatchLessons asks for a currency update whenever w sees a practice
// session end.
func (b *Background) WatchLessons(ctx context.Context, w *duolingo.Watcher) {
	w.On(duolingo.PracticeSessionEnd, func() {
		b.log.Info("practice session ended")
		if err := b.hub.RequestCurrencyUpdate(ctx); err != nil {
			b.log.Error("currency update request failed", zap.Error(err))
		}
	})
}

func (b *Background) openOptionsIfUnlinked(ctx context.Context) {
	username, err := b.access.GetDuolingoUsername(ctx)
	if err != nil {
		b.log.Error("read username failed", zap.Error(err))
		return
	}
	if username != "" {
		return
	}
	if err := b.rt.OpenOptionsPage(ctx); err != nil {
		b.log.Error("open options failed", zap.Error(err))
	}
}

// allowNewTab reports whether enough time passed since the last new tab.
func (b *Background) allowNewTab() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.lastTab.IsZero() && now.Sub(b.lastTab) < b.newTabSpacing {
		return false
	}
	b.lastTab = now
	return true
}
