package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	apperrors "github.com/acme/number-provisioning/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// NumberRepository manages purchased number persistence.
type NumberRepository interface {
	Create(ctx context.Context, number *domain.PurchasedNumber) error
	Get(ctx context.Context, id uuid.UUID) (*domain.PurchasedNumber, error)
	GetByProviderID(ctx context.Context, providerID string) (*domain.PurchasedNumber, error)
	Update(ctx context.Context, number *domain.PurchasedNumber) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.PurchasedNumber, error)
	ListByStatus(ctx context.Context, status domain.NumberStatus, limit int) ([]*domain.PurchasedNumber, error)
}

// JobQueue owns provisioning job records. ClaimNext is the only path to the
// processing state and must be safe under concurrent processor instances.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.ProvisioningJob) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ProvisioningJob, error)
	// ClaimNext atomically flips the highest-priority eligible pending job to
	// processing, incrementing its attempt counter. Jobs whose number already
	// has a processing job are not eligible. Returns ErrNotFound when the
	// queue has no eligible work.
	ClaimNext(ctx context.Context) (*domain.ProvisioningJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Release returns a claimed job to pending without consuming an attempt.
	// Used when another processor instance holds the number's lock.
	Release(ctx context.Context, id uuid.UUID, at time.Time) error
	// Reschedule returns a processing job to pending with a future
	// scheduled_for, preserving the attempt counter.
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) error
	// Fail marks a job terminally failed. Terminal jobs are never re-enqueued;
	// a fresh retry is a separate record.
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	ListByNumber(ctx context.Context, numberID uuid.UUID, limit int) ([]*domain.ProvisioningJob, error)
}

// ConfigurationRepository manages the one-to-one number configuration rows.
type ConfigurationRepository interface {
	Upsert(ctx context.Context, cfg *domain.NumberConfiguration) error
	Get(ctx context.Context, numberID uuid.UUID) (*domain.NumberConfiguration, error)
}

// AttemptStore keeps the append-only audit log of provider call attempts.
type AttemptStore interface {
	Append(ctx context.Context, attempt AttemptRecord) error
	ListByNumber(ctx context.Context, numberID uuid.UUID, limit int) ([]AttemptRecord, error)
}

// AttemptRecord is one provider call outcome for observability.
type AttemptRecord struct {
	ID         uuid.UUID
	NumberID   uuid.UUID
	JobID      uuid.UUID
	Action     domain.JobAction
	AttemptNum int
	Success    bool
	ProviderID string
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}
