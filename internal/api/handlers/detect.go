package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/subtitler/internal/pipeline"
)

type DetectHandler struct {
	svc *pipeline.Service
}

func NewDetectHandler(svc *pipeline.Service) *DetectHandler {
	return &DetectHandler{svc: svc}
}

// Start launches detection for a task.
func (h *DetectHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req pipeline.DetectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Detect(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]string{
		"task_id": req.TaskID,
		"status":  "started",
	}, http.StatusOK)
}

// Result returns detection progress, or the detected subtitles once done.
func (h *DetectHandler) Result(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.DetectionResult(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, view, http.StatusOK)
}

// Confirm stores the subtitles the user kept.
func (h *DetectHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.Confirm(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"task_id":         req.TaskID,
		"status":          "confirmed",
		"confirmed_count": n,
	}, http.StatusOK)
}
