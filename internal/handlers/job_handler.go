package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/services/jobs"
)

// maxUploadBytes caps a single document upload. Multipart parsing keeps at
// most maxUploadMemory in RAM and spools the rest to disk.
const (
	maxUploadBytes  = 256 << 20
	maxUploadMemory = 32 << 20
)

// unsupportedTypeMessage is the user-facing rejection for uploads no job
// type accepts.
const unsupportedTypeMessage = "You uploaded an unsupported document type."

// JobHandler handles job-related API requests
type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// CreateJobHandler accepts a document upload and schedules a cleaning job
// POST /api/v1/jobs?session={sid} with multipart field "doc_src"
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "The uploaded document is too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "Expected a multipart form upload")
		return
	}

	file, header, err := r.FormFile("doc_src")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "A document file (doc_src) is required")
		return
	}
	defer file.Close()

	source, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read uploaded document")
		WriteError(w, http.StatusInternalServerError, "Failed to read uploaded document")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = r.FormValue("session")
	}

	var params models.JobParams
	if raw := r.FormValue("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			WriteError(w, http.StatusBadRequest, "The params field must be a JSON object of strings")
			return
		}
	}

	id, err := h.jobService.Create(ctx, source, header.Filename, params, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnsupportedType):
			h.logger.Debug().Str("name", header.Filename).Msg("Upload with unsupported document type rejected")
			WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"status":         "error",
				"error":          unsupportedTypeMessage,
				"accepted_types": h.jobService.ReadableTypes(),
			})
		case errors.Is(err, models.ErrNotFound):
			WriteError(w, http.StatusNotFound, "Invalid session id")
		default:
			h.logger.Error().Err(err).Msg("Failed to create job")
			WriteError(w, http.StatusInternalServerError, "Failed to create job")
		}
		return
	}

	details, err := h.jobService.GetDetails(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Created job vanished")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/jobs/%s", id))
	WriteJSON(w, http.StatusCreated, details)
}

// GetJobHandler returns a single job by ID
// GET /api/v1/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	details, err := h.jobService.GetDetails(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

// GetJobResultHandler streams the cleaned document of a successful job
// GET /api/v1/jobs/{id}/result
func (h *JobHandler) GetJobResultHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	result, name, err := h.jobService.GetResult(r.Context(), jobID)
	if err != nil {
		// An unfinished job has no result to serve yet, so both cases
		// are a 404 from the client's point of view.
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidState) {
			WriteError(w, http.StatusNotFound, "Job result not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job result")
		WriteError(w, http.StatusInternalServerError, "Failed to get job result")
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// DeleteJobHandler deletes a finished job
// DELETE /api/v1/jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.jobService.Delete(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			WriteError(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, models.ErrInvalidState):
			WriteError(w, http.StatusConflict, "Job is still being processed")
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to delete job")
			WriteError(w, http.StatusInternalServerError, "Failed to delete job")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// jobIDFromPath extracts the job id from /api/v1/jobs/{id} and its subpaths.
func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 || pathParts[3] == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return "", false
	}
	return pathParts[3], true
}
