package dto

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrStagingNotFound = errors.New("upload staging not found")
	ErrObjectNotFound  = errors.New("staged object not found in storage")
	ErrForbidden       = errors.New("caller does not own this resource")
	ErrNotRetryable    = errors.New("job is not retryable")
)

// DuplicateError signals that the submitted content already produced a
// meeting for this user. It carries the existing meeting id so the client
// can link to it instead of re-processing.
type DuplicateError struct {
	MeetingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content, existing meeting %s", e.MeetingID)
}

type UploadURLRequest struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"fileSize"`
	FileHash    string `json:"fileHash"`
	ContentType string `json:"contentType"`
}

type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Location  string `json:"location"`
	UploadID  string `json:"uploadId"`
	ExpiresIn int    `json:"expiresIn"`
}

type UploadCompleteRequest struct {
	UploadID           string `json:"uploadId"`
	Location           string `json:"location"`
	Title              string `json:"title,omitempty"`
	ProjectID          string `json:"projectId,omitempty"`
	SkipDuplicateCheck bool   `json:"skipDuplicateCheck,omitempty"`
}

type IngestResponse struct {
	JobID                string `json:"jobId"`
	Location             string `json:"location,omitempty"`
	EstimatedTimeSeconds int    `json:"estimatedTimeSeconds"`
}

type JobStatusResponse struct {
	JobID        string  `json:"jobId"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	MeetingID    *string `json:"meetingId,omitempty"`
	Error        string  `json:"error,omitempty"`
	RetryAttempt int     `json:"retryAttempt,omitempty"`
	CanRetry     bool    `json:"canRetry"`
	CreatedAt    string  `json:"createdAt"`
	CompletedAt  *string `json:"completedAt,omitempty"`
}

type DuplicateResponse struct {
	Error     string `json:"error"`
	MeetingID string `json:"meetingId"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
