package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"willsave/internal/logger"
	"willsave/internal/service"
	"willsave/pkg/apierror"
	"willsave/pkg/response"
)

// SettingsHandler serves the options page.
type SettingsHandler struct {
	options *service.Options
	log     *zap.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(options *service.Options, log *zap.Logger) *SettingsHandler {
	return &SettingsHandler{options: options, log: logger.OrNop(log)}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.options.Load(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, s)
}

// Put handles PUT /api/v1/settings
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var s service.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}

	var details []apierror.FieldError
	if s.MinutesPerCurrency <= 0 {
		details = append(details, apierror.FieldError{Field: "minutesPerCurrency", Message: "must be positive"})
	}
	if s.CurrencyPerLesson <= 0 {
		details = append(details, apierror.FieldError{Field: "currencyPerLesson", Message: "must be positive"})
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid settings", details...))
		return
	}

	res, err := h.options.Save(r.Context(), s)
	if err != nil {
		h.log.Warn("save settings failed", zap.Error(err))
		response.Error(w, apiError(err))
		return
	}
	response.OK(w, res)
}

// Suggestions handles GET /api/v1/settings/suggestions
func (h *SettingsHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.options.Suggestions())
}
