package repository

import (
	"context"
	"errors"
	"fmt"

	"meetingScribe/api/models"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrStagingNotFound = errors.New("upload staging not found")
	ErrMeetingNotFound = errors.New("meeting not found")
)

// DuplicateMeetingError is returned by CreateMeeting when the partial unique
// index on (user_id, content_digest) rejects the insert. The constraint, not
// the pre-check query, is the authoritative duplicate signal.
type DuplicateMeetingError struct {
	ExistingID string
}

func (e *DuplicateMeetingError) Error() string {
	return fmt.Sprintf("meeting with same digest already exists: %s", e.ExistingID)
}

type Repository interface {
	CreateJob(ctx context.Context, job *models.IngestionJob) error
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress int, retryAttempt *int) error
	CompleteJob(ctx context.Context, id string, meetingID string) error
	FailJob(ctx context.Context, id string, errorMessage string) error

	CreateStaging(ctx context.Context, staging *models.UploadStaging) error
	GetStaging(ctx context.Context, id string) (*models.UploadStaging, error)
	CompleteStaging(ctx context.Context, id string) error

	FindMeetingByDigest(ctx context.Context, userID, digest string) (*models.Meeting, error)
	FindMeetingByFilename(ctx context.Context, userID, filename string) (*models.Meeting, error)
	CreateMeeting(ctx context.Context, meeting *models.Meeting) error
}
