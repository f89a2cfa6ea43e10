package models

import (
	"time"
)

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

type StagingStatus string

const (
	StagingPending   StagingStatus = "pending"
	StagingCompleted StagingStatus = "completed"
)

// IngestionJob tracks one attempt to turn a staged recording into a meeting.
// Rows are written once by the API and mutated only by the worker that owns
// the job id, so progress is monotonic within a run.
type IngestionJob struct {
	ID               string
	UserID           string
	TraceID          string
	Status           JobStatus
	Progress         int
	OriginalFilename string
	SizeBytes        int64
	Location         string
	MeetingID        *string
	ErrorMessage     string
	RetryAttempt     int
	CanRetry         bool
	CanDeleteLocal   bool
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// UploadStaging records a signed-URL upload handshake. The location is
// allocated server-side and never reused across users.
type UploadStaging struct {
	ID               string
	UserID           string
	OriginalFilename string
	SizeBytes        int64
	ContentDigest    string
	Location         string
	Status           StagingStatus
	RetryCount       int
	MaxRetries       int
	CreatedAt        time.Time
	UploadedAt       *time.Time
}

// Meeting is the durable artifact a successful job produces. At most one
// non-deleted meeting per (user_id, content_digest) may exist.
type Meeting struct {
	ID               string
	UserID           string
	Title            string
	Transcript       string
	Summary          string
	Attendees        []string
	DurationSeconds  int
	ContentDigest    string
	SizeBytes        int64
	OriginalFilename string
	Location         string
	CreatedAt        time.Time
}
