package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"willsave/internal/duolingo"
	"willsave/internal/logger"
	"willsave/pkg/apierror"
	"willsave/pkg/response"
)

// maxSnapshotBytes bounds pushed page snapshots.
const maxSnapshotBytes = 4 << 20

// WatcherHandler receives page snapshots for the page watcher.
type WatcherHandler struct {
	feed    *duolingo.Feed
	watcher *duolingo.Watcher
	log     *zap.Logger
}

// NewWatcherHandler creates a new watcher handler.
func NewWatcherHandler(feed *duolingo.Feed, watcher *duolingo.Watcher, log *zap.Logger) *WatcherHandler {
	return &WatcherHandler{feed: feed, watcher: watcher, log: logger.OrNop(log)}
}

// SnapshotRequest is a captured page.
type SnapshotRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// SnapshotResponse reports what was seen on the page.
type SnapshotResponse struct {
	Path    string   `json:"path"`
	Markers []string `json:"markers"`
	State   string   `json:"state"`
}

// Snapshot handles POST /api/v1/watcher/snapshot. The watcher picks the
// page up on its next poll; State is the state before that poll.
func (h *WatcherHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBytes)).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}
	if req.URL == "" {
		response.Error(w, apierror.ValidationError("url is required", apierror.FieldError{Field: "url", Message: "required"}))
		return
	}

	snap, err := duolingo.ParseSnapshot(req.URL, strings.NewReader(req.HTML))
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}
	h.feed.Update(snap)
	h.log.Debug("page snapshot", zap.String("path", snap.Path()), zap.Int("markers", len(snap.Markers())))

	response.OK(w, SnapshotResponse{
		Path:    snap.Path(),
		Markers: lo.Map(snap.Markers(), func(m duolingo.Marker, _ int) string { return m.String() }),
		State:   h.watcher.State().String(),
	})
}
