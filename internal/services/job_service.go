package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/luminapix/backend/internal/audit"
	"github.com/luminapix/backend/internal/models"
)

// JobService owns job records and their state machine. Status, progress,
// error and outputs are written only through the transition methods, so
// a job's lifecycle is linearized without per-record locks.
type JobService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
}

func NewJobService(db *sql.DB, ledger *LedgerService) *JobService {
	return &JobService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
	}
}

// CreateTx inserts a new queued job inside a caller-owned transaction.
// The admission path pairs it with the ledger reservation funding it so
// both commit or neither does.
func (s *JobService) CreateTx(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	job.Status = models.JobQueued
	job.Progress = 0
	job.CreatedAt = time.Now()

	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	inputs, err := json.Marshal(job.InputImages)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, account_id, operation, parameters, status, progress, credits_reserved, input_images, callback_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.AccountID, string(job.Operation), params, string(job.Status), job.Progress,
		job.CreditsReserved, inputs, job.CallbackURL, job.CreatedAt)
	return err
}

// Get reads a job scoped to its owning account. A job belonging to a
// different account is reported as not found, never as forbidden.
func (s *JobService) Get(ctx context.Context, jobID, accountID string) (*models.Job, error) {
	return s.fetch(ctx, `WHERE id = $1 AND account_id = $2`, jobID, accountID)
}

// Lookup reads a job by id without account scoping. For internal use by
// the dispatcher and workers only.
func (s *JobService) Lookup(ctx context.Context, jobID string) (*models.Job, error) {
	return s.fetch(ctx, `WHERE id = $1`, jobID)
}

// List returns the account's jobs ordered by creation time, newest
// first. status filters when non-empty.
func (s *JobService) List(ctx context.Context, accountID string, status models.JobStatus, limit, offset int) ([]models.Job, error) {
	query := `
		SELECT id, account_id, operation, parameters, status, progress, credits_reserved,
		       input_images, output_images, error_message, callback_url, processing_seconds,
		       created_at, started_at, completed_at
		FROM jobs
		WHERE account_id = $1`
	args := []any{accountID}

	if status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, string(status), limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Cancel transitions a queued job to cancelled and refunds its full
// reservation, both in one transaction. Only queued jobs can be
// cancelled; work already handed to a worker runs to completion.
func (s *JobService) Cancel(ctx context.Context, jobID, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.JobStatus
	var reserved int64
	err = tx.QueryRowContext(ctx, `
		SELECT status, credits_reserved FROM jobs
		WHERE id = $1 AND account_id = $2
		FOR UPDATE`, jobID, accountID).Scan(&status, &reserved)

	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return err
	}

	if status != models.JobQueued {
		return fmt.Errorf("%w: cannot cancel job with status %s", ErrInvalidState, status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3`,
		string(models.JobCancelled), time.Now(), jobID)
	if err != nil {
		return err
	}

	if reserved > 0 {
		reason := fmt.Sprintf("job %s cancelled", jobID)
		if _, err := s.ledger.RefundTx(ctx, tx, accountID, reserved, reason, jobID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogTransition(jobID, accountID, models.JobQueued, models.JobCancelled)
	return nil
}

// MarkProcessing transitions queued -> processing and stamps started_at
// once. Idempotent while the job is already processing.
func (s *JobService) MarkProcessing(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, started_at = COALESCE(started_at, $2)
		WHERE id = $3 AND status IN ('queued', 'processing')`,
		string(models.JobProcessing), time.Now(), jobID)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, result, jobID, "mark processing")
}

// UpdateProgress clamps percent to [0,100] and records it. Updates
// racing a terminal transition are discarded silently.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = $1 WHERE id = $2 AND status = $3`,
		percent, jobID, string(models.JobProcessing))
	return err
}

// Complete transitions processing -> completed with outputs attached and
// progress forced to 100.
func (s *JobService) Complete(ctx context.Context, jobID string, outputs []string, processingSeconds float64) error {
	outJSON, err := json.Marshal(outputs)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, progress = 100, output_images = $2, processing_seconds = $3, completed_at = $4
		WHERE id = $5 AND status = $6`,
		string(models.JobCompleted), outJSON, processingSeconds, time.Now(), jobID, string(models.JobProcessing))
	if err != nil {
		return err
	}
	if err := s.checkTransition(ctx, result, jobID, "complete"); err != nil {
		return err
	}

	log.Printf("[JOB] %s completed in %.2fs", jobID, processingSeconds)
	return nil
}

// Fail transitions a queued or processing job to failed. It does not
// refund the reservation; only cancellation while queued does.
func (s *JobService) Fail(ctx context.Context, jobID, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4 AND status IN ('queued', 'processing')`,
		string(models.JobFailed), errorMessage, time.Now(), jobID)
	if err != nil {
		return err
	}
	if err := s.checkTransition(ctx, result, jobID, "fail"); err != nil {
		return err
	}

	log.Printf("[JOB] %s failed: %s", jobID, errorMessage)
	return nil
}

// checkTransition distinguishes a missing job from a disallowed
// transition when a guarded update matched no rows.
func (s *JobService) checkTransition(ctx context.Context, result sql.Result, jobID, op string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s job with status %s", ErrInvalidState, op, status)
}

func (s *JobService) fetch(ctx context.Context, where string, args ...any) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, operation, parameters, status, progress, credits_reserved,
		       input_images, output_images, error_message, callback_url, processing_seconds,
		       created_at, started_at, completed_at
		FROM jobs `+where, args...)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var params, inputs, outputs []byte
	var errorMessage, callbackURL sql.NullString
	var processingSeconds sql.NullFloat64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.AccountID, &job.Operation, &params, &job.Status, &job.Progress,
		&job.CreditsReserved, &inputs, &outputs, &errorMessage, &callbackURL, &processingSeconds,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, err
		}
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &job.InputImages); err != nil {
			return nil, err
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.OutputImages); err != nil {
			return nil, err
		}
	}

	job.ErrorMessage = errorMessage.String
	job.CallbackURL = callbackURL.String
	job.ProcessingSeconds = processingSeconds.Float64
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}
