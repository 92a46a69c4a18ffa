package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/repository"
)

// AttemptStore persists the provisioning attempt audit log in Scylla.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// Append records one provider call outcome.
func (s *AttemptStore) Append(ctx context.Context, attempt repository.AttemptRecord) error {
	durationMs := int64(attempt.Duration / time.Millisecond)
	if err := s.session.Query(`INSERT INTO attempts_by_number
		(number_id, attempt_id, job_id, action, attempt_number, success, provider_id, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.NumberID.String(), attempt.ID.String(), attempt.JobID.String(), string(attempt.Action),
		attempt.AttemptNum, attempt.Success, attempt.ProviderID, attempt.Error, durationMs, attempt.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: append: %w", err)
	}
	return nil
}

// ListByNumber returns the most recent attempts for a number.
func (s *AttemptStore) ListByNumber(ctx context.Context, numberID uuid.UUID, limit int) ([]repository.AttemptRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT attempt_id, job_id, action, attempt_number, success, provider_id, error, duration_ms, created_at
		FROM attempts_by_number WHERE number_id = ? LIMIT ?`, numberID.String(), limit).
		WithContext(ctx).Iter()

	var (
		attemptIDStr string
		jobIDStr     string
		action       string
		attemptNum   int
		success      bool
		providerID   string
		errMsg       string
		durationMs   int64
		createdAt    time.Time
	)

	attempts := make([]repository.AttemptRecord, 0, limit)
	for iter.Scan(&attemptIDStr, &jobIDStr, &action, &attemptNum, &success, &providerID, &errMsg, &durationMs, &createdAt) {
		attemptID, err := uuid.Parse(attemptIDStr)
		if err != nil {
			continue
		}
		jobID, err := uuid.Parse(jobIDStr)
		if err != nil {
			continue
		}

		attempts = append(attempts, repository.AttemptRecord{
			ID:         attemptID,
			NumberID:   numberID,
			JobID:      jobID,
			Action:     domain.JobAction(action),
			AttemptNum: attemptNum,
			Success:    success,
			ProviderID: providerID,
			Error:      errMsg,
			Duration:   time.Duration(durationMs) * time.Millisecond,
			CreatedAt:  createdAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, nil
}
