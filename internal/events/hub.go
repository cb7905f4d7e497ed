// Package events layers a typed topic model over the host runtime's
// cross-context messaging.
package events

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"willsave/internal/host"
	"willsave/internal/logger"
)

// Kind is an event kind; it doubles as the channel name.
type Kind string

const (
	CurrencyUpdateRequest Kind = "TRIGGER_CURRENCY_UPDATE"
	RedirectRequest       Kind = "TRIGGER_REDIRECT"
	NewTabRequest         Kind = "TRIGGER_NEW_TOLL_TAB"
)

// request is the tagged payload every kind is published with.
type request struct {
	Kind Kind   `json:"kind"`
	URL  string `json:"url,omitempty"`
	// TabID names the target tab when the publisher acts on behalf of
	// another tab.
	TabID *int `json:"tabId,omitempty"`
}

// Hub publishes and filters the fixed set of event kinds.
type Hub struct {
	rt        host.Runtime
	log       *zap.Logger
	published *prometheus.CounterVec
	received  *prometheus.CounterVec
}

// NewHub creates a hub over rt. Metrics are registered when promRegistry is
// non-nil.
func NewHub(rt host.Runtime, promRegistry prometheus.Registerer, log *zap.Logger) *Hub {
	h := &Hub{
		rt:  rt,
		log: logger.OrNop(log).Named("EventHub"),
	}
	if promRegistry != nil {
		h.initMetrics(promRegistry)
	}
	return h
}

func (h *Hub) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	h.published = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "willsave_events_published_total",
			Help: "events published through the hub, by kind",
		},
		[]string{"kind"},
	)
	h.received = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "willsave_events_received_total",
			Help: "events delivered to hub subscribers, by kind",
		},
		[]string{"kind"},
	)
}

func (h *Hub) publish(ctx context.Context, req request) error {
	if err := h.rt.Publish(ctx, string(req.Kind), req); err != nil {
		h.log.Error("publish failed", zap.String("kind", string(req.Kind)), zap.Error(err))
		return err
	}
	if h.published != nil {
		h.published.WithLabelValues(string(req.Kind)).Inc()
	}
	return nil
}

// subscribe delivers only payloads tagged with kind.
func (h *Hub) subscribe(kind Kind, fn func(req request, tabID int)) {
	h.rt.Subscribe(string(kind), func(msg host.Message) {
		var req request
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Kind != kind {
			return
		}
		if h.received != nil {
			h.received.WithLabelValues(string(kind)).Inc()
		}
		fn(req, msg.TabID)
	})
}

// RequestCurrencyUpdate asks the background context to refresh the balance.
func (h *Hub) RequestCurrencyUpdate(ctx context.Context) error {
	return h.publish(ctx, request{Kind: CurrencyUpdateRequest})
}

// OnCurrencyUpdate registers fn for currency update requests.
func (h *Hub) OnCurrencyUpdate(fn func()) {
	h.subscribe(CurrencyUpdateRequest, func(request, int) { fn() })
}

// RequestRedirect asks the background context to navigate the sender's tab.
func (h *Hub) RequestRedirect(ctx context.Context, url string) error {
	return h.publish(ctx, request{Kind: RedirectRequest, URL: url})
}

// RequestRedirectForTab asks the background context to navigate tabID.
func (h *Hub) RequestRedirectForTab(ctx context.Context, tabID int, url string) error {
	return h.publish(ctx, request{Kind: RedirectRequest, URL: url, TabID: &tabID})
}

// OnRedirect registers fn with the target URL and the tab to navigate: the
// tab named in the request, or else the sender.
func (h *Hub) OnRedirect(fn func(url string, tabID int)) {
	h.subscribe(RedirectRequest, func(req request, tabID int) {
		if req.TabID != nil {
			tabID = *req.TabID
		}
		fn(req.URL, tabID)
	})
}

// RequestNewTab asks the background context to open url in a new tab.
func (h *Hub) RequestNewTab(ctx context.Context, url string) error {
	return h.publish(ctx, request{Kind: NewTabRequest, URL: url})
}

// OnRequestNewTab registers fn for new tab requests.
func (h *Hub) OnRequestNewTab(fn func(url string)) {
	h.subscribe(NewTabRequest, func(req request, _ int) { fn(req.URL) })
}
