package handlers

import (
	"net/http"

	"github.com/video-stream/subtitler/internal/pipeline"
)

type TransformHandler struct {
	svc *pipeline.Service
}

func NewTransformHandler(svc *pipeline.Service) *TransformHandler {
	return &TransformHandler{svc: svc}
}

// Translate starts translating and re-rendering the confirmed subtitles.
func (h *TransformHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.TranslateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Translate(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"task_id": req.TaskID, "status": "started"}, http.StatusOK)
}

// Process starts subtitle removal.
func (h *TransformHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Process(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"task_id": req.TaskID, "status": "started"}, http.StatusOK)
}

// Presets lists the translation styles.
func (h *TransformHandler) Presets(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.svc.Presets(), http.StatusOK)
}

// Engines lists the engines this server has configured.
func (h *TransformHandler) Engines(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.svc.Available(), http.StatusOK)
}
