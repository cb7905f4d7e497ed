package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/events"
	"willsave/internal/logger"
	"willsave/internal/service"
	"willsave/pkg/response"
)

// CurrencyHandler serves the balance and session state.
type CurrencyHandler struct {
	access    *datastore.Access
	hub       *events.Hub
	scheduler *service.RefreshScheduler
	log       *zap.Logger
}

// NewCurrencyHandler creates a new currency handler.
func NewCurrencyHandler(access *datastore.Access, hub *events.Hub, scheduler *service.RefreshScheduler, log *zap.Logger) *CurrencyHandler {
	return &CurrencyHandler{
		access:    access,
		hub:       hub,
		scheduler: scheduler,
		log:       logger.OrNop(log),
	}
}

// GetCurrency handles GET /api/v1/currency
func (h *CurrencyHandler) GetCurrency(w http.ResponseWriter, r *http.Request) {
	currency, err := h.access.GetCurrency(r.Context())
	if err != nil {
		h.log.Error("read currency failed", zap.Error(err))
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"currency": currency})
}

// RefreshCurrency handles POST /api/v1/currency/refresh. With ?wait=true
// the check runs synchronously and reports the lessons credited.
func (h *CurrencyHandler) RefreshCurrency(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") != "true" {
		if err := h.hub.RequestCurrencyUpdate(r.Context()); err != nil {
			response.Error(w, err)
			return
		}
		response.Accepted(w, map[string]any{"requested": true})
		return
	}

	lessons, err := h.scheduler.RunNow(r.Context())
	if err != nil {
		h.log.Warn("refresh failed", zap.Error(err))
		response.Error(w, apiError(err))
		return
	}
	currency, err := h.access.GetCurrency(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{
		"lessons":  lessons,
		"currency": currency,
	})
}

// SessionResponse describes the paid session.
type SessionResponse struct {
	Active      bool       `json:"active"`
	RemainingMS int64      `json:"remaining_ms"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
}

// GetSession handles GET /api/v1/session
func (h *CurrencyHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.access.GetMillisecondsToSessionExpiration(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	resp := SessionResponse{Active: remaining >= 0, RemainingMS: remaining}
	if resp.Active {
		until, err := h.access.GetSessionExpiry(r.Context())
		if err != nil {
			response.Error(w, err)
			return
		}
		resp.ValidUntil = &until
	}
	response.OK(w, resp)
}
