package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/pipeline"
)

const writeWait = 5 * time.Second

// ProgressHandler pushes task snapshots over a WebSocket.
type ProgressHandler struct {
	svc      *pipeline.Service
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewProgressHandler(svc *pipeline.Service, interval time.Duration, logger *slog.Logger) *ProgressHandler {
	return &ProgressHandler{
		svc:      svc,
		interval: interval,
		upgrader: websocket.Upgrader{
			// Origins are enforced by the CORS layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Component(logger, "progress"),
	}
}

// Stream sends {status, progress, message} every interval while the task is
// processing, then a final snapshot, then closes.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	snap, err := h.svc.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			logging.Task(h.logger, id).Debug("progress stream closed", "error", err)
			return
		}
		if snap.Status != models.StatusProcessing {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		if snap, err = h.svc.Status(r.Context(), id); err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
				time.Now().Add(writeWait))
			return
		}
	}
}
