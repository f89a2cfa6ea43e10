package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var ErrJobNotFound = errors.New("job not found")

// DuplicateMeetingError reports that the unique (user_id, content_digest)
// index rejected an insert; ExistingID is the meeting that got there first.
type DuplicateMeetingError struct {
	ExistingID string
}

func (e *DuplicateMeetingError) Error() string {
	return fmt.Sprintf("meeting with same digest already exists: %s", e.ExistingID)
}

// Meeting holds the fields the worker writes when a pipeline run succeeds.
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
}

type Repository interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress int, retryAttempt int) error
	CompleteJob(ctx context.Context, jobID, meetingID string) error
	FailJob(ctx context.Context, jobID, errMsg string) error
	CreateMeeting(ctx context.Context, meeting *Meeting) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UpdateJobProgress(ctx context.Context, jobID string, progress int, retryAttempt int) error {
	query := `
		UPDATE ingestion_jobs
		SET progress = GREATEST(progress, $2), retry_attempt = GREATEST(retry_attempt, $3)
		WHERE id = $1 AND status = 'processing'
	`

	_, err := r.db.Exec(ctx, query, jobID, progress, retryAttempt)
	return err
}

func (r *PostgresRepo) CompleteJob(ctx context.Context, jobID, meetingID string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'completed', progress = 100, meeting_id = $2,
		    can_delete_local = TRUE, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query, jobID, meetingID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) FailJob(ctx context.Context, jobID, errMsg string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'failed', error_message = $2, can_retry = TRUE, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) CreateMeeting(ctx context.Context, meeting *Meeting) error {
	query := `
		INSERT INTO meetings (id, user_id, title, transcript, summary, attendees, duration_seconds,
		                      content_digest, size_bytes, original_filename, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		meeting.ID,
		meeting.UserID,
		meeting.Title,
		meeting.Transcript,
		meeting.Summary,
		meeting.Attendees,
		meeting.DurationSeconds,
		meeting.ContentDigest,
		meeting.SizeBytes,
		meeting.OriginalFilename,
		meeting.Location,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		var existingID string
		lookup := `SELECT id FROM meetings WHERE user_id = $1 AND content_digest = $2`
		if lookupErr := r.db.QueryRow(ctx, lookup, meeting.UserID, meeting.ContentDigest).Scan(&existingID); lookupErr != nil {
			return err
		}
		return &DuplicateMeetingError{ExistingID: existingID}
	}

	return err
}
