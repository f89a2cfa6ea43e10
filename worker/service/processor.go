package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetingScribe/worker/intelligence"
	"meetingScribe/worker/kafka"
	"meetingScribe/worker/repository"
	"meetingScribe/worker/retry"
)

const initialProgress = 10

// ObjectStore is the slice of the staging store the pipeline needs.
type ObjectStore interface {
	Download(ctx context.Context, location string) (io.ReadCloser, error)
	Delete(ctx context.Context, location string) error
	MoveToProcessed(ctx context.Context, location, meetingID string) (string, error)
}

// Intelligence is the external transcription/summarization collaborator.
type Intelligence interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*intelligence.Transcript, error)
	ExtractMetadata(ctx context.Context, transcript string) (*intelligence.Metadata, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

// StatusCache mirrors job state into Redis for cheap polling.
type StatusCache interface {
	Set(ctx context.Context, jobID, userID, status string, progress int) error
}

type Processor struct {
	repo    repository.Repository
	cache   StatusCache
	store   ObjectStore
	intel   Intelligence
	retrier *retry.Retrier
	logger  *zap.Logger
}

func NewProcessor(repo repository.Repository, cache StatusCache, store ObjectStore, intel Intelligence, retrier *retry.Retrier, logger *zap.Logger) *Processor {
	return &Processor{
		repo:    repo,
		cache:   cache,
		store:   store,
		intel:   intel,
		retrier: retrier,
		logger:  logger,
	}
}

// Process drives one job to a terminal state. The whole pipeline body is one
// retry unit: an attempt that fails at summarization re-runs transcription
// too. Errors never escape past here; the submitting request returned long
// ago, so failures land on the job row and in the log.
func (p *Processor) Process(ctx context.Context, msg *kafka.IngestMessage) error {
	p.logger.Info("Pipeline started",
		zap.String("trace_id", msg.TraceID),
		zap.String("job_id", msg.JobID),
		zap.String("location", msg.Location),
	)

	lastProgress := initialProgress
	p.setProgress(ctx, msg, initialProgress, 0)

	attempts := 0
	meetingID, err := retry.Do(ctx, p.retrier, func(ctx context.Context) (string, error) {
		attempts++
		return p.runPipeline(ctx, msg)
	}, func(attempt int) {
		lastProgress = initialProgress + attempt*20
		p.setProgress(ctx, msg, lastProgress, attempt)
		p.logger.Warn("Pipeline attempt failed, retrying",
			zap.String("trace_id", msg.TraceID),
			zap.String("job_id", msg.JobID),
			zap.Int("attempt", attempt),
		)
	})

	if err != nil {
		if updateErr := p.repo.UpdateJobProgress(ctx, msg.JobID, lastProgress, attempts); updateErr != nil {
			p.logger.Error("Failed to record final attempt count",
				zap.String("job_id", msg.JobID), zap.Error(updateErr))
		}
		if failErr := p.repo.FailJob(ctx, msg.JobID, err.Error()); failErr != nil {
			p.logger.Error("Failed to mark job failed",
				zap.String("job_id", msg.JobID), zap.Error(failErr))
		}
		p.cache.Set(ctx, msg.JobID, msg.UserID, "failed", lastProgress)

		// The staged object is deliberately left in place so a manual
		// retry can reuse it.
		p.logger.Error("Pipeline failed after all attempts",
			zap.String("trace_id", msg.TraceID),
			zap.String("job_id", msg.JobID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return err
	}

	if err := p.repo.CompleteJob(ctx, msg.JobID, meetingID); err != nil {
		p.logger.Error("Failed to mark job completed",
			zap.String("job_id", msg.JobID), zap.Error(err))
		return err
	}
	p.cache.Set(ctx, msg.JobID, msg.UserID, "completed", 100)

	if newLocation, err := p.store.MoveToProcessed(ctx, msg.Location, meetingID); err != nil {
		// The meeting is durable; a stuck temp object is a housekeeping
		// problem, not a job failure.
		p.logger.Warn("Failed to move staged object to processed",
			zap.String("job_id", msg.JobID),
			zap.String("location", msg.Location),
			zap.Error(err),
		)
	} else {
		p.logger.Info("Staged object moved",
			zap.String("job_id", msg.JobID),
			zap.String("location", newLocation),
		)
	}

	p.logger.Info("Pipeline completed",
		zap.String("trace_id", msg.TraceID),
		zap.String("job_id", msg.JobID),
		zap.String("meeting_id", meetingID),
	)
	return nil
}

// runPipeline is one attempt: download, transcribe, extract metadata,
// summarize, persist. Returns the meeting id on success.
func (p *Processor) runPipeline(ctx context.Context, msg *kafka.IngestMessage) (string, error) {
	body, err := p.store.Download(ctx, msg.Location)
	if err != nil {
		return "", fmt.Errorf("download staged object: %w", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return "", fmt.Errorf("read staged object: %w", err)
	}

	digest := msg.ContentDigest
	if digest == "" {
		sum := sha256.Sum256(data)
		digest = hex.EncodeToString(sum[:])
	}

	transcript, err := p.intel.Transcribe(ctx, bytes.NewReader(data), msg.Filename)
	if err != nil {
		return "", err
	}

	meta, err := p.intel.ExtractMetadata(ctx, transcript.Text)
	if err != nil {
		return "", err
	}

	summary, err := p.intel.Summarize(ctx, transcript.Text)
	if err != nil {
		return "", err
	}

	title := meta.Title
	if title == "" {
		title = msg.Filename
	}

	meeting := &repository.Meeting{
		ID:               uuid.New().String(),
		UserID:           msg.UserID,
		Title:            title,
		Transcript:       transcript.Text,
		Summary:          summary,
		Attendees:        meta.Attendees,
		DurationSeconds:  int(transcript.DurationSeconds),
		ContentDigest:    digest,
		SizeBytes:        int64(len(data)),
		OriginalFilename: msg.Filename,
		Location:         msg.Location,
	}

	if err := p.repo.CreateMeeting(ctx, meeting); err != nil {
		var dup *repository.DuplicateMeetingError
		if errors.As(err, &dup) {
			// A concurrent identical upload won the race. Its meeting is
			// the canonical one; this attempt's staged copy is redundant.
			p.logger.Info("Duplicate meeting detected at write time",
				zap.String("job_id", msg.JobID),
				zap.String("existing_meeting_id", dup.ExistingID),
			)
			_ = p.store.Delete(ctx, msg.Location)
			return dup.ExistingID, nil
		}
		return "", fmt.Errorf("persist meeting: %w", err)
	}

	return meeting.ID, nil
}

func (p *Processor) setProgress(ctx context.Context, msg *kafka.IngestMessage, progress, retryAttempt int) {
	if err := p.repo.UpdateJobProgress(ctx, msg.JobID, progress, retryAttempt); err != nil {
		p.logger.Error("Failed to update job progress",
			zap.String("job_id", msg.JobID), zap.Error(err))
	}
	p.cache.Set(ctx, msg.JobID, msg.UserID, "processing", progress)
}
