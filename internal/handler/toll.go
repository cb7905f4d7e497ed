package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"willsave/internal/logger"
	"willsave/internal/service"
	"willsave/pkg/apierror"
	"willsave/pkg/response"
)

// TollHandler serves the paywall page actions.
type TollHandler struct {
	toll *service.Toll
	log  *zap.Logger
}

// NewTollHandler creates a new toll handler.
func NewTollHandler(toll *service.Toll, log *zap.Logger) *TollHandler {
	return &TollHandler{toll: toll, log: logger.OrNop(log)}
}

// TabIDHeader names the browser tab a toll page request comes from.
const TabIDHeader = "X-Tab-ID"

// callerTab reads the caller's tab from TabIDHeader. Without the header the
// daemon's own tab is addressed.
func callerTab(r *http.Request) (int, error) {
	raw := r.Header.Get(TabIDHeader)
	if raw == "" {
		return service.SelfTab, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, apierror.BadRequest(TabIDHeader + " must be a tab id")
	}
	return id, nil
}

// View handles GET /api/v1/toll?r=<blocked url>
func (h *TollHandler) View(w http.ResponseWriter, r *http.Request) {
	view, err := h.toll.View(r.Context(), r.URL.Query().Get("r"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, view)
}

// PayRequest is the optional body of a payment.
type PayRequest struct {
	Amount int `json:"amount"`
}

// Pay handles POST /api/v1/toll/pay. An empty body pays one unit.
func (h *TollHandler) Pay(w http.ResponseWriter, r *http.Request) {
	tabID, err := callerTab(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	req := PayRequest{Amount: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}

	payment, err := h.toll.Pay(r.Context(), req.Amount, tabID)
	if err != nil {
		response.Error(w, apiError(err))
		return
	}
	response.OK(w, payment)
}

// Mine handles POST /api/v1/toll/mine
func (h *TollHandler) Mine(w http.ResponseWriter, r *http.Request) {
	tabID, err := callerTab(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.toll.Mine(r.Context(), tabID); err != nil {
		response.Error(w, apiError(err))
		return
	}
	response.Accepted(w, map[string]any{"redirected": true})
}

// RedirectRequest names an outbound link target.
type RedirectRequest struct {
	URL string `json:"url"`
}

// Redirect handles POST /api/v1/toll/redirect
func (h *TollHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	tabID, err := callerTab(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req RedirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}
	if err := h.toll.Redirect(r.Context(), tabID, req.URL); err != nil {
		h.log.Warn("rejected redirect", zap.String("url", req.URL), zap.Error(err))
		response.Error(w, apiError(err))
		return
	}
	response.Accepted(w, map[string]any{"redirected": true})
}
