package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/repository"
)

// JobRepository implements repository.JobQueue using PostgreSQL.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs a new repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, purchased_number_id, action, status, priority, attempts, max_attempts,
	scheduled_for, processed_at, error_message, metadata, created_at, updated_at`

// Enqueue inserts a pending job.
func (r *JobRepository) Enqueue(ctx context.Context, job *domain.ProvisioningJob) error {
	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return fmt.Errorf("job repo: marshal metadata: %w", err)
	}

	q := `INSERT INTO provisioning_queue (
		id, purchased_number_id, action, status, priority, attempts, max_attempts,
		scheduled_for, processed_at, error_message, metadata, created_at, updated_at
	) VALUES (
		:id, :purchased_number_id, :action, :status, :priority, :attempts, :max_attempts,
		:scheduled_for, :processed_at, :error_message, :metadata, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":                  job.ID,
		"purchased_number_id": job.NumberID,
		"action":              job.Action,
		"status":              job.Status,
		"priority":            job.Priority,
		"attempts":            job.Attempts,
		"max_attempts":        job.MaxAttempts,
		"scheduled_for":       job.ScheduledFor,
		"processed_at":        job.ProcessedAt,
		"error_message":       job.ErrorMessage,
		"metadata":            metadata,
		"created_at":          job.CreatedAt,
		"updated_at":          job.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("job repo: insert: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ProvisioningJob, error) {
	q := `SELECT ` + jobColumns + ` FROM provisioning_queue WHERE id = $1`

	var record jobRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("job repo: get: %w", err)
	}

	return record.toDomain()
}

// ClaimNext claims the highest-priority eligible pending job. The claim is a
// single conditional update over a locked subselect, so concurrent processor
// instances can never double-claim a row. Numbers that already have a job in
// processing are skipped, keeping at most one in-flight job per number.
func (r *JobRepository) ClaimNext(ctx context.Context) (*domain.ProvisioningJob, error) {
	q := `UPDATE provisioning_queue SET
		status = 'processing',
		attempts = attempts + 1,
		updated_at = now()
	WHERE id = (
		SELECT q.id FROM provisioning_queue q
		WHERE q.status = 'pending'
		  AND q.scheduled_for <= now()
		  AND NOT EXISTS (
			SELECT 1 FROM provisioning_queue p
			WHERE p.purchased_number_id = q.purchased_number_id
			  AND p.status = 'processing'
		  )
		ORDER BY q.priority DESC, q.created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + jobColumns

	var record jobRecord
	if err := r.db.QueryRowxContext(ctx, q).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("job repo: claim: %w", err)
	}

	return record.toDomain()
}

// Complete marks a job as successfully processed.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE provisioning_queue SET
		status = 'completed', processed_at = now(), error_message = NULL, updated_at = now()
	 WHERE id = $1 AND status = 'processing'`

	return r.execExpectingRow(ctx, q, id)
}

// Release hands a claimed job back to the queue without consuming an attempt.
func (r *JobRepository) Release(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := `UPDATE provisioning_queue SET
		status = 'pending', attempts = attempts - 1, scheduled_for = $2, updated_at = now()
	 WHERE id = $1 AND status = 'processing'`

	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("job repo: release: %w", err)
	}
	return checkAffected(res)
}

// Reschedule returns a processing job to pending with a future eligibility time.
func (r *JobRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) error {
	q := `UPDATE provisioning_queue SET
		status = 'pending', scheduled_for = $2, error_message = $3, updated_at = now()
	 WHERE id = $1 AND status = 'processing'`

	res, err := r.db.ExecContext(ctx, q, id, at, errMsg)
	if err != nil {
		return fmt.Errorf("job repo: reschedule: %w", err)
	}
	return checkAffected(res)
}

// Fail marks a job terminally failed.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	q := `UPDATE provisioning_queue SET
		status = 'failed', processed_at = now(), error_message = $2, updated_at = now()
	 WHERE id = $1 AND status = 'processing'`

	res, err := r.db.ExecContext(ctx, q, id, errMsg)
	if err != nil {
		return fmt.Errorf("job repo: fail: %w", err)
	}
	return checkAffected(res)
}

// ListByNumber returns jobs targeting a number, newest first.
func (r *JobRepository) ListByNumber(ctx context.Context, numberID uuid.UUID, limit int) ([]*domain.ProvisioningJob, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + jobColumns + ` FROM provisioning_queue
		WHERE purchased_number_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, q, numberID, limit)
	if err != nil {
		return nil, fmt.Errorf("job repo: list by number: %w", err)
	}
	defer rows.Close()

	var results []*domain.ProvisioningJob
	for rows.Next() {
		var record jobRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("job repo: scan: %w", err)
		}
		job, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job repo: rows err: %w", err)
	}
	return results, nil
}

func (r *JobRepository) execExpectingRow(ctx context.Context, q string, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("job repo: exec: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

type jobRecord struct {
	ID           uuid.UUID      `db:"id"`
	NumberID     uuid.UUID      `db:"purchased_number_id"`
	Action       string         `db:"action"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	Attempts     int            `db:"attempts"`
	MaxAttempts  int            `db:"max_attempts"`
	ScheduledFor time.Time      `db:"scheduled_for"`
	ProcessedAt  sql.NullTime   `db:"processed_at"`
	ErrorMessage sql.NullString `db:"error_message"`
	Metadata     []byte         `db:"metadata"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func (r jobRecord) toDomain() (*domain.ProvisioningJob, error) {
	job := &domain.ProvisioningJob{
		ID:           r.ID,
		NumberID:     r.NumberID,
		Action:       domain.JobAction(r.Action),
		Status:       domain.JobStatus(r.Status),
		Priority:     r.Priority,
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		ScheduledFor: r.ScheduledFor,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
	if r.ProcessedAt.Valid {
		processedAt := r.ProcessedAt.Time
		job.ProcessedAt = &processedAt
	}
	if r.ErrorMessage.Valid {
		errorMessage := r.ErrorMessage.String
		job.ErrorMessage = &errorMessage
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("job repo: unmarshal metadata: %w", err)
		}
	}
	return job, nil
}
