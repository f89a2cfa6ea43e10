package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"meetingScribe/api/cache"
	"meetingScribe/api/dto"
	"meetingScribe/api/fingerprint"
	"meetingScribe/api/kafka"
	"meetingScribe/api/models"
	"meetingScribe/api/repository"
	"meetingScribe/api/storage"
	"meetingScribe/api/validation"
)

const stagingMaxRetries = 3

// ObjectStore is the subset of the storage layer the ingestion flow needs.
type ObjectStore interface {
	Upload(ctx context.Context, location string, body io.Reader, contentType string) error
	PresignUpload(ctx context.Context, location, contentType string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, location string) (bool, error)
	Delete(ctx context.Context, location string) error
}

// StatusCache is the polling-side view of the Redis status mirror.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*cache.Snapshot, error)
	Set(ctx context.Context, jobID, userID string, status models.JobStatus, progress int) error
}

type IngestService struct {
	repo      repository.Repository
	cache     StatusCache
	store     ObjectStore
	producer  kafka.Producer
	topic     string
	uploadTTL time.Duration
}

func NewIngestService(repo repository.Repository, cache StatusCache, store ObjectStore, producer kafka.Producer, topic string, uploadTTL time.Duration) *IngestService {
	return &IngestService{
		repo:      repo,
		cache:     cache,
		store:     store,
		producer:  producer,
		topic:     topic,
		uploadTTL: uploadTTL,
	}
}

// RequestUploadURL begins the signed-URL handshake: allocate a temp location,
// presign a PUT to it and record the pending staging row.
func (s *IngestService) RequestUploadURL(ctx context.Context, userID string, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error) {
	if req.Filename == "" {
		return nil, validation.ErrMissingFilename
	}
	if !validation.IsAllowedAudioExtension(req.Filename) {
		return nil, validation.ErrInvalidFileType
	}
	if req.FileSize <= 0 {
		return nil, validation.ErrInvalidSize
	}
	if req.FileHash == "" {
		return nil, validation.ErrMissingDigest
	}

	location := storage.TempKey(userID, req.FileHash, req.Filename)

	uploadURL, err := s.store.PresignUpload(ctx, location, req.ContentType, s.uploadTTL)
	if err != nil {
		return nil, err
	}

	staging := &models.UploadStaging{
		ID:               uuid.New().String(),
		UserID:           userID,
		OriginalFilename: req.Filename,
		SizeBytes:        req.FileSize,
		ContentDigest:    req.FileHash,
		Location:         location,
		Status:           models.StagingPending,
		MaxRetries:       stagingMaxRetries,
	}
	if err := s.repo.CreateStaging(ctx, staging); err != nil {
		return nil, err
	}

	return &dto.UploadURLResponse{
		UploadURL: uploadURL,
		Location:  location,
		UploadID:  staging.ID,
		ExpiresIn: int(s.uploadTTL.Seconds()),
	}, nil
}

// CompleteUpload finishes the handshake: the object must exist at the staged
// location before any job is created. On a duplicate hit the staged object
// is discarded and the existing meeting id is surfaced.
func (s *IngestService) CompleteUpload(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error) {
	staging, err := s.repo.GetStaging(ctx, req.UploadID)
	if err != nil {
		if errors.Is(err, repository.ErrStagingNotFound) {
			return nil, dto.ErrStagingNotFound
		}
		return nil, err
	}
	if staging.UserID != userID {
		return nil, dto.ErrForbidden
	}

	exists, err := s.store.Exists(ctx, staging.Location)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dto.ErrObjectNotFound
	}

	if err := s.repo.CompleteStaging(ctx, staging.ID); err != nil {
		return nil, err
	}

	if !req.SkipDuplicateCheck {
		if existingID, err := s.findExisting(ctx, userID, staging.ContentDigest, staging.OriginalFilename); err != nil {
			return nil, err
		} else if existingID != "" {
			// Already processed: the staged copy is redundant.
			_ = s.store.Delete(ctx, staging.Location)
			return nil, &dto.DuplicateError{MeetingID: existingID}
		}
	}

	return s.launchJob(ctx, userID, traceID, staging.OriginalFilename, staging.SizeBytes, staging.Location, staging.ContentDigest)
}

// DirectUpload is the buffered variant: the payload arrives in-band, gets
// digested synchronously, duplicate-checked and staged, then a job launches.
func (s *IngestService) DirectUpload(ctx context.Context, userID, traceID, filename, contentType string, data []byte, skipDuplicateCheck bool) (*dto.IngestResponse, error) {
	digest, err := fingerprint.Digest(data)
	if err != nil {
		return nil, err
	}

	if !skipDuplicateCheck {
		if existingID, err := s.findExisting(ctx, userID, digest, filename); err != nil {
			return nil, err
		} else if existingID != "" {
			return nil, &dto.DuplicateError{MeetingID: existingID}
		}
	}

	location := storage.TempKey(userID, digest, filename)
	if err := s.store.Upload(ctx, location, bytes.NewReader(data), contentType); err != nil {
		return nil, err
	}

	return s.launchJob(ctx, userID, traceID, filename, int64(len(data)), location, digest)
}

// launchJob writes the processing row first, so the job is pollable before
// the worker ever sees the message, then hands off to Kafka.
func (s *IngestService) launchJob(ctx context.Context, userID, traceID, filename string, sizeBytes int64, location, digest string) (*dto.IngestResponse, error) {
	job := &models.IngestionJob{
		ID:               uuid.New().String(),
		UserID:           userID,
		TraceID:          traceID,
		Status:           models.StatusProcessing,
		Progress:         0,
		OriginalFilename: filename,
		SizeBytes:        sizeBytes,
		Location:         location,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.cache.Set(ctx, job.ID, userID, models.StatusProcessing, 0)

	msg := &kafka.IngestMessage{
		JobID:         job.ID,
		TraceID:       traceID,
		UserID:        userID,
		Location:      location,
		ContentDigest: digest,
		Filename:      filename,
		SizeBytes:     sizeBytes,
	}
	if err := s.producer.SendIngestMessage(ctx, s.topic, msg); err != nil {
		return nil, err
	}

	return &dto.IngestResponse{
		JobID:                job.ID,
		Location:             location,
		EstimatedTimeSeconds: estimateSeconds(sizeBytes),
	}, nil
}

func (s *IngestService) GetJobStatus(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error) {
	if snap, err := s.cache.Get(ctx, jobID); err == nil {
		if snap.UserID != userID {
			return nil, dto.ErrForbidden
		}
		// Terminal jobs need the full projection (meeting id, error),
		// so only in-flight status is served from cache.
		if snap.Status == models.StatusProcessing {
			return &dto.JobStatusResponse{
				JobID:    jobID,
				Status:   string(snap.Status),
				Progress: snap.Progress,
			}, nil
		}
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, dto.ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, dto.ErrForbidden
	}

	s.cache.Set(ctx, job.ID, job.UserID, job.Status, job.Progress)

	return toStatusResponse(job), nil
}

// RetryJob mints a new job for a failed one, reusing the staged object. The
// old job stays terminal; it is never reopened.
func (s *IngestService) RetryJob(ctx context.Context, userID, traceID, jobID string) (*dto.IngestResponse, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, dto.ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, dto.ErrForbidden
	}
	if job.Status != models.StatusFailed || !job.CanRetry {
		return nil, dto.ErrNotRetryable
	}

	return s.launchJob(ctx, userID, traceID, job.OriginalFilename, job.SizeBytes, job.Location, "")
}

// findExisting implements the duplicate index lookup: digest first, then the
// filename fallback that only matches legacy rows without a digest.
func (s *IngestService) findExisting(ctx context.Context, userID, digest, filename string) (string, error) {
	meeting, err := s.repo.FindMeetingByDigest(ctx, userID, digest)
	if err == nil {
		return meeting.ID, nil
	}
	if !errors.Is(err, repository.ErrMeetingNotFound) {
		return "", err
	}

	meeting, err = s.repo.FindMeetingByFilename(ctx, userID, filename)
	if err == nil {
		return meeting.ID, nil
	}
	if !errors.Is(err, repository.ErrMeetingNotFound) {
		return "", err
	}

	return "", nil
}

func toStatusResponse(job *models.IngestionJob) *dto.JobStatusResponse {
	var completedAt *string
	if job.CompletedAt != nil {
		formatted := job.CompletedAt.Format(time.RFC3339)
		completedAt = &formatted
	}

	return &dto.JobStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		MeetingID:    job.MeetingID,
		Error:        job.ErrorMessage,
		RetryAttempt: job.RetryAttempt,
		CanRetry:     job.CanRetry,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		CompletedAt:  completedAt,
	}
}

// estimateSeconds gives clients a rough processing-time hint based on the
// declared payload size.
func estimateSeconds(sizeBytes int64) int {
	est := int(sizeBytes/(1024*1024)) * 10
	if est < 30 {
		est = 30
	}
	if est > 900 {
		est = 900
	}
	return est
}
