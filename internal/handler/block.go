package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"willsave/internal/logger"
	"willsave/internal/service"
	"willsave/pkg/apierror"
	"willsave/pkg/response"
)

// keepAliveInterval keeps idle event streams from being cut by proxies.
const keepAliveInterval = 30 * time.Second

// BlockHandler serves block decisions for the content-script shim.
type BlockHandler struct {
	blocker *service.Blocker
	log     *zap.Logger
}

// NewBlockHandler creates a new block handler.
func NewBlockHandler(blocker *service.Blocker, log *zap.Logger) *BlockHandler {
	return &BlockHandler{blocker: blocker, log: logger.OrNop(log)}
}

// Check handles GET /api/v1/block?url=<page url>
func (h *BlockHandler) Check(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		response.Error(w, apierror.BadRequest("url is required"))
		return
	}

	d, err := h.blocker.Check(r.Context(), pageURL)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, d)
}

// Stream handles GET /api/v1/block/stream?url=<page url> as a server-sent
// event stream of decisions. It ends when the client goes away, or after
// the single decision for a page that is not blocklisted.
func (h *BlockHandler) Stream(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		response.Error(w, apierror.BadRequest("url is required"))
		return
	}

	decisions, err := h.blocker.Watch(r.Context(), pageURL)
	if err != nil {
		response.Error(w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case d, ok := <-decisions:
			if !ok {
				return
			}
			data, err := json.Marshal(d)
			if err != nil {
				h.log.Error("encode decision failed", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", d.State, data); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			h.log.Debug("flush failed", zap.Error(err))
			return
		}
	}
}
