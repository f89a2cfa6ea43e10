package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"meetingScribe/api/database"
	"meetingScribe/api/models"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) Repository {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	query := `
		INSERT INTO ingestion_jobs (id, user_id, trace_id, status, progress, original_filename, size_bytes, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return r.db.Pool.QueryRow(ctx, query,
		job.ID,
		job.UserID,
		job.TraceID,
		job.Status,
		job.Progress,
		job.OriginalFilename,
		job.SizeBytes,
		job.Location,
	).Scan(&job.CreatedAt)
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	query := `
		SELECT id, user_id, trace_id, status, progress, original_filename, size_bytes, location,
		       meeting_id, error_message, retry_attempt, can_retry, can_delete_local, created_at, completed_at
		FROM ingestion_jobs
		WHERE id = $1
	`

	var job models.IngestionJob
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.UserID,
		&job.TraceID,
		&job.Status,
		&job.Progress,
		&job.OriginalFilename,
		&job.SizeBytes,
		&job.Location,
		&job.MeetingID,
		&job.ErrorMessage,
		&job.RetryAttempt,
		&job.CanRetry,
		&job.CanDeleteLocal,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &job, nil
}

// UpdateJobProgress clamps with GREATEST so progress never moves backwards,
// and only touches jobs that are still processing.
func (r *PostgresRepo) UpdateJobProgress(ctx context.Context, id string, progress int, retryAttempt *int) error {
	query := `
		UPDATE ingestion_jobs
		SET progress = GREATEST(progress, $2),
		    retry_attempt = COALESCE($3, retry_attempt)
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Pool.Exec(ctx, query, id, progress, retryAttempt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) CompleteJob(ctx context.Context, id string, meetingID string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'completed', progress = 100, meeting_id = $2,
		    can_delete_local = TRUE, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Pool.Exec(ctx, query, id, meetingID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) FailJob(ctx context.Context, id string, errorMessage string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'failed', error_message = $2, can_retry = TRUE, completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) CreateStaging(ctx context.Context, staging *models.UploadStaging) error {
	query := `
		INSERT INTO upload_stagings (id, user_id, original_filename, size_bytes, content_digest, location, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return r.db.Pool.QueryRow(ctx, query,
		staging.ID,
		staging.UserID,
		staging.OriginalFilename,
		staging.SizeBytes,
		staging.ContentDigest,
		staging.Location,
		staging.Status,
		staging.MaxRetries,
	).Scan(&staging.CreatedAt)
}

func (r *PostgresRepo) GetStaging(ctx context.Context, id string) (*models.UploadStaging, error) {
	query := `
		SELECT id, user_id, original_filename, size_bytes, content_digest, location, status,
		       retry_count, max_retries, created_at, uploaded_at
		FROM upload_stagings
		WHERE id = $1
	`

	var staging models.UploadStaging
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&staging.ID,
		&staging.UserID,
		&staging.OriginalFilename,
		&staging.SizeBytes,
		&staging.ContentDigest,
		&staging.Location,
		&staging.Status,
		&staging.RetryCount,
		&staging.MaxRetries,
		&staging.CreatedAt,
		&staging.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStagingNotFound
		}
		return nil, err
	}

	return &staging, nil
}

func (r *PostgresRepo) CompleteStaging(ctx context.Context, id string) error {
	query := `
		UPDATE upload_stagings
		SET status = 'completed', uploaded_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrStagingNotFound
	}
	return nil
}

func (r *PostgresRepo) FindMeetingByDigest(ctx context.Context, userID, digest string) (*models.Meeting, error) {
	query := `
		SELECT id, user_id, title, content_digest, size_bytes, original_filename, location, created_at
		FROM meetings
		WHERE user_id = $1 AND content_digest = $2
	`

	return r.scanMeetingRow(r.db.Pool.QueryRow(ctx, query, userID, digest))
}

// FindMeetingByFilename only matches legacy rows that carry no digest; it is
// a heuristic fallback, never the authoritative duplicate signal.
func (r *PostgresRepo) FindMeetingByFilename(ctx context.Context, userID, filename string) (*models.Meeting, error) {
	query := `
		SELECT id, user_id, title, content_digest, size_bytes, original_filename, location, created_at
		FROM meetings
		WHERE user_id = $1 AND original_filename = $2 AND content_digest = ''
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.scanMeetingRow(r.db.Pool.QueryRow(ctx, query, userID, filename))
}

func (r *PostgresRepo) CreateMeeting(ctx context.Context, meeting *models.Meeting) error {
	query := `
		INSERT INTO meetings (id, user_id, title, transcript, summary, attendees, duration_seconds,
		                      content_digest, size_bytes, original_filename, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
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
	).Scan(&meeting.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		existing, lookupErr := r.FindMeetingByDigest(ctx, meeting.UserID, meeting.ContentDigest)
		if lookupErr != nil {
			return err
		}
		return &DuplicateMeetingError{ExistingID: existing.ID}
	}

	return err
}

func (r *PostgresRepo) scanMeetingRow(row pgx.Row) (*models.Meeting, error) {
	var meeting models.Meeting
	err := row.Scan(
		&meeting.ID,
		&meeting.UserID,
		&meeting.Title,
		&meeting.ContentDigest,
		&meeting.SizeBytes,
		&meeting.OriginalFilename,
		&meeting.Location,
		&meeting.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}

	return &meeting, nil
}
