package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"meetingScribe/api/dto"
	"meetingScribe/api/middleware"
	"meetingScribe/api/validation"
)

// Service is what the handlers need from the ingestion layer; narrowed to an
// interface so tests can swap in fakes.
type Service interface {
	RequestUploadURL(ctx context.Context, userID string, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error)
	CompleteUpload(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error)
	DirectUpload(ctx context.Context, userID, traceID, filename, contentType string, data []byte, skipDuplicateCheck bool) (*dto.IngestResponse, error)
	GetJobStatus(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error)
	RetryJob(ctx context.Context, userID, traceID, jobID string) (*dto.IngestResponse, error)
}

type IngestHandler struct {
	service     Service
	logger      *zap.Logger
	maxFileSize int64
}

func NewIngestHandler(service Service, logger *zap.Logger, maxFileSize int64) *IngestHandler {
	return &IngestHandler{
		service:     service,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

func (h *IngestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload-url", h.UploadURL)
	mux.HandleFunc("POST /upload-complete", h.UploadComplete)
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("GET /status/{jobId}", h.Status)
	mux.HandleFunc("POST /retry/{jobId}", h.Retry)
}

func (h *IngestHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	var req dto.UploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.RequestUploadURL(r.Context(), userID, &req)
	if err != nil {
		h.respondServiceError(w, "Failed to create upload URL", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *IngestHandler) UploadComplete(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	var req dto.UploadCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if req.UploadID == "" {
		h.handleError(w, "uploadId is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CompleteUpload(r.Context(), userID, traceID, &req)
	if err != nil {
		h.respondServiceError(w, "Failed to complete upload", err, traceID)
		return
	}

	h.logger.Info("Upload completed, job launched",
		zap.String("trace_id", traceID),
		zap.String("job_id", resp.JobID),
		zap.String("upload_id", req.UploadID),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		h.handleError(w, "Invalid file", validation.ErrFileTooLarge, traceID, http.StatusBadRequest)
		return
	}
	if !validation.IsAllowedAudioExtension(header.Filename) {
		h.handleError(w, "Invalid file", validation.ErrInvalidFileType, traceID, http.StatusBadRequest)
		return
	}
	if _, err := validation.DetectFileType(file); err != nil {
		h.handleError(w, "Invalid file", err, traceID, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(w, "Failed to read file", err, traceID, http.StatusInternalServerError)
		return
	}

	skipDup := r.FormValue("skipDuplicateCheck") == "true"
	contentType := header.Header.Get("Content-Type")

	resp, err := h.service.DirectUpload(r.Context(), userID, traceID, header.Filename, contentType, data, skipDup)
	if err != nil {
		h.respondServiceError(w, "Failed to ingest file", err, traceID)
		return
	}

	h.logger.Info("File uploaded",
		zap.String("trace_id", traceID),
		zap.String("job_id", resp.JobID),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.handleError(w, "Job ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetJobStatus(r.Context(), userID, jobID)
	if err != nil {
		h.respondServiceError(w, "Failed to get job status", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *IngestHandler) Retry(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.handleError(w, "Job ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.RetryJob(r.Context(), userID, traceID, jobID)
	if err != nil {
		h.respondServiceError(w, "Failed to retry job", err, traceID)
		return
	}

	h.logger.Info("Job retried",
		zap.String("trace_id", traceID),
		zap.String("old_job_id", jobID),
		zap.String("new_job_id", resp.JobID),
	)

	h.respondJSON(w, http.StatusAccepted, resp)
}

// respondServiceError maps service-level failures onto the HTTP taxonomy:
// duplicates are 409 with the existing meeting id, missing things 404,
// ownership mismatches 403, validation problems 400.
func (h *IngestHandler) respondServiceError(w http.ResponseWriter, message string, err error, traceID string) {
	var dup *dto.DuplicateError
	if errors.As(err, &dup) {
		h.respondJSON(w, http.StatusConflict, dto.DuplicateResponse{
			Error:     "Duplicate content",
			MeetingID: dup.MeetingID,
		})
		return
	}

	switch {
	case errors.Is(err, dto.ErrJobNotFound),
		errors.Is(err, dto.ErrStagingNotFound),
		errors.Is(err, dto.ErrObjectNotFound):
		h.handleError(w, message, err, traceID, http.StatusNotFound)
	case errors.Is(err, dto.ErrForbidden):
		h.handleError(w, message, err, traceID, http.StatusForbidden)
	case errors.Is(err, dto.ErrNotRetryable):
		h.handleError(w, message, err, traceID, http.StatusBadRequest)
	case isValidationError(err):
		h.handleError(w, message, err, traceID, http.StatusBadRequest)
	default:
		h.handleError(w, message, err, traceID, http.StatusInternalServerError)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, validation.ErrMissingFilename) ||
		errors.Is(err, validation.ErrMissingDigest) ||
		errors.Is(err, validation.ErrInvalidSize) ||
		errors.Is(err, validation.ErrInvalidFileType) ||
		errors.Is(err, validation.ErrFileTooLarge)
}

func (h *IngestHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *IngestHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
