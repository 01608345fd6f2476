package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/models"
)

// JobLifecycle is the job half of lifecycle.Service.
type JobLifecycle interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	SetJobProgress(ctx context.Context, workerID, jobID uuid.UUID, percent int, comment string) (*models.Job, error)
	ListJobProgress(ctx context.Context, jobID uuid.UUID) ([]*models.JobProgress, error)
	SetJobCompletion(ctx context.Context, workerID, jobID uuid.UUID, files []models.FileMeta, comment string) (*models.Job, error)
	RequestJobChanges(ctx context.Context, ownerID, jobID uuid.UUID, comment string) (*models.Job, error)
	WorkerAbandonJob(ctx context.Context, workerID, jobID uuid.UUID) (*models.Job, error)
}

// JobHandler serves /api/v1/jobs endpoints.
type JobHandler struct {
	Lifecycle JobLifecycle
	Logger    *slog.Logger
}

type progressRequest struct {
	Progress int    `json:"progress"`
	Comment  string `json:"comment"`
}

type completionRequest struct {
	Comment string            `json:"comment"`
	Files   []models.FileMeta `json:"files"`
}

type changesRequest struct {
	Comment string `json:"comment"`
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.Lifecycle.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// SetProgress handles POST /api/v1/jobs/{id}/progress.
func (h *JobHandler) SetProgress(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req progressRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := h.Lifecycle.SetJobProgress(r.Context(), uid, id, req.Progress, req.Comment)
	if err != nil {
		writeError(w, logger(h.Logger), "set job progress", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListProgress handles GET /api/v1/jobs/{id}/progress.
func (h *JobHandler) ListProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.Lifecycle.ListJobProgress(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "list job progress", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// Complete handles POST /api/v1/jobs/{id}/complete.
func (h *JobHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req completionRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := h.Lifecycle.SetJobCompletion(r.Context(), uid, id, req.Files, req.Comment)
	if err != nil {
		writeError(w, logger(h.Logger), "complete job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RequestChanges handles POST /api/v1/jobs/{id}/request-changes.
func (h *JobHandler) RequestChanges(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req changesRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := h.Lifecycle.RequestJobChanges(r.Context(), uid, id, req.Comment)
	if err != nil {
		writeError(w, logger(h.Logger), "request job changes", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Abandon handles POST /api/v1/jobs/{id}/abandon.
func (h *JobHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.caller(w, r)
	if !ok {
		return
	}
	job, err := h.Lifecycle.WorkerAbandonJob(r.Context(), uid, id)
	if err != nil {
		writeError(w, logger(h.Logger), "abandon job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	uid, ok := callerID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return uid, id, true
}
