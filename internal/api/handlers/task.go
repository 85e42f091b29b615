package handlers

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/video-stream/subtitler/internal/db/models"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/pipeline"
)

type TaskHandler struct {
	svc       *pipeline.Service
	maxUpload int64
	logger    *slog.Logger
}

func NewTaskHandler(svc *pipeline.Service, maxUpload int64, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, maxUpload: maxUpload, logger: logging.Component(logger, "api")}
}

// Upload accepts a multipart "file" field and creates a task for it.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, "file exceeds the "+humanize.Bytes(uint64(h.maxUpload))+" upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	t, err := h.svc.Upload(r.Context(), file, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"task_id":   t.ID,
		"status":    t.Status,
		"file_name": t.FileName,
		"file_hash": t.FileHash,
	}, http.StatusOK)
}

// List returns tasks, newest first. ?status= filters them.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	jsonResponse(w, tasks, http.StatusOK)
}

// Get returns a task with the files it has produced.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := h.svc.Files(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"task":  t,
		"files": files,
	}, http.StatusOK)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Status(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, snap, http.StatusOK)
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "task_id")); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelling"}, http.StatusAccepted)
}

// Download streams the output of a completed task.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	path, name, err := h.svc.Output(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// Preview returns a JPEG of the source at ?t= seconds.
func (h *TaskHandler) Preview(w http.ResponseWriter, r *http.Request) {
	at := 0.0
	if v := r.URL.Query().Get("t"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			jsonError(w, "invalid t parameter", http.StatusBadRequest)
			return
		}
		at = parsed
	}
	id := chi.URLParam(r, "task_id")
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := h.svc.Preview(r.Context(), id, at, &buf); err != nil {
		logging.Task(h.logger, id).Warn("preview failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Health(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, report, http.StatusOK)
}
