package number

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/repository"
	apperrors "github.com/acme/number-provisioning/pkg/errors"
)

// Waker nudges the queue processor after an enqueue so new jobs are picked up
// without waiting out the poll interval.
type Waker interface {
	Wake()
}

// Service coordinates number lifecycle operations: it is the enqueue surface
// consumed by checkout and webhook collaborators.
type Service struct {
	numbers repository.NumberRepository
	jobs    repository.JobQueue
	configs repository.ConfigurationRepository
	waker   Waker
	clock   func() time.Time
}

// NewService builds the number management service. The waker is optional.
func NewService(
	numbers repository.NumberRepository,
	jobs repository.JobQueue,
	configs repository.ConfigurationRepository,
	waker Waker,
) *Service {
	return &Service{
		numbers: numbers,
		jobs:    jobs,
		configs: configs,
		waker:   waker,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock substitutes the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// PurchaseInput encapsulates a checkout collaborator's purchase record.
type PurchaseInput struct {
	OwnerID     uuid.UUID
	PhoneNumber string
	CountryCode string
	AreaCode    string
	OrderID     string
	Priority    int
	ExpiresAt   *time.Time
}

// Purchase records a purchased number in the pending state, creates its
// default configuration and enqueues the initial provision job.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (*domain.PurchasedNumber, error) {
	if input.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if input.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", apperrors.ErrValidation)
	}
	if input.CountryCode == "" {
		return nil, fmt.Errorf("%w: country code is required", apperrors.ErrValidation)
	}

	now := s.clock()
	number := &domain.PurchasedNumber{
		ID:          uuid.New(),
		OwnerID:     input.OwnerID,
		PhoneNumber: input.PhoneNumber,
		CountryCode: input.CountryCode,
		AreaCode:    input.AreaCode,
		Status:      domain.NumberStatusPending,
		PurchasedAt: now,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.numbers.Create(ctx, number); err != nil {
		return nil, fmt.Errorf("number service: persist number: %w", err)
	}

	cfg := domain.DefaultConfiguration(number.ID, now)
	if err := s.configs.Upsert(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("number service: persist configuration: %w", err)
	}

	metadata := map[string]any{}
	if input.OrderID != "" {
		metadata["order_id"] = input.OrderID
	}
	if _, err := s.Enqueue(ctx, number.ID, domain.JobActionProvision, input.Priority, metadata); err != nil {
		return nil, err
	}

	return number, nil
}

// Enqueue inserts a pending lifecycle job for a number. Checkout and webhook
// collaborators call it with an action, a priority and opaque metadata.
func (s *Service) Enqueue(ctx context.Context, numberID uuid.UUID, action domain.JobAction, priority int, metadata map[string]any) (*domain.ProvisioningJob, error) {
	if !domain.ValidAction(action) {
		return nil, fmt.Errorf("%w: unknown action %q", apperrors.ErrValidation, action)
	}
	if _, err := s.numbers.Get(ctx, numberID); err != nil {
		return nil, fmt.Errorf("number service: lookup number: %w", err)
	}

	job := domain.NewProvisioningJob(numberID, action, priority, metadata, s.clock())
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("number service: enqueue job: %w", err)
	}

	if s.waker != nil {
		s.waker.Wake()
	}
	return job, nil
}

// RetryProvisioning re-enqueues a fresh provision job for a failed number,
// resetting its attempt counter. The exhausted job stays terminal; the retry
// is a separate record.
func (s *Service) RetryProvisioning(ctx context.Context, numberID uuid.UUID) (*domain.ProvisioningJob, error) {
	number, err := s.numbers.Get(ctx, numberID)
	if err != nil {
		return nil, fmt.Errorf("number service: lookup number: %w", err)
	}

	if err := number.ResetForRetry(s.clock()); err != nil {
		return nil, err
	}
	if err := s.numbers.Update(ctx, number); err != nil {
		return nil, fmt.Errorf("number service: reset number: %w", err)
	}

	return s.Enqueue(ctx, numberID, domain.JobActionProvision, 0, map[string]any{"reason": "manual_retry"})
}

// ConfigurationInput carries forwarding settings from the configuration UI.
type ConfigurationInput struct {
	ForwardingType       domain.ForwardingType
	ForwardingNumber     string
	VoicemailEnabled     bool
	VoicemailEmail       string
	CallRecordingEnabled bool
}

// UpdateConfiguration stores new forwarding settings and, for an active
// number, enqueues an update_forwarding job so the provider converges.
func (s *Service) UpdateConfiguration(ctx context.Context, numberID uuid.UUID, input ConfigurationInput) (*domain.NumberConfiguration, error) {
	switch input.ForwardingType {
	case domain.ForwardingNone, domain.ForwardingMobile, domain.ForwardingLandline, domain.ForwardingVoIP:
	default:
		return nil, fmt.Errorf("%w: unknown forwarding type %q", apperrors.ErrValidation, input.ForwardingType)
	}
	if input.ForwardingType != domain.ForwardingNone && input.ForwardingNumber == "" {
		return nil, fmt.Errorf("%w: forwarding destination is required", apperrors.ErrValidation)
	}

	number, err := s.numbers.Get(ctx, numberID)
	if err != nil {
		return nil, fmt.Errorf("number service: lookup number: %w", err)
	}

	cfg := &domain.NumberConfiguration{
		NumberID:             numberID,
		ForwardingType:       input.ForwardingType,
		ForwardingNumber:     input.ForwardingNumber,
		VoicemailEnabled:     input.VoicemailEnabled,
		VoicemailEmail:       input.VoicemailEmail,
		CallRecordingEnabled: input.CallRecordingEnabled,
		UpdatedAt:            s.clock(),
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("number service: persist configuration: %w", err)
	}

	if number.Status == domain.NumberStatusActive {
		if _, err := s.Enqueue(ctx, numberID, domain.JobActionUpdateForwarding, 0, nil); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ProviderEventType enumerates inbound webhook event types.
type ProviderEventType string

const (
	ProviderEventProvisioned ProviderEventType = "provisioned"
	ProviderEventReleased    ProviderEventType = "released"
	ProviderEventSuspended   ProviderEventType = "suspended"
	ProviderEventActivated   ProviderEventType = "activated"
)

// HandleProviderEvent applies an inbound provider webhook to the owning
// number. Events bypass the queue but route through the same transition
// helpers as the processor, so the two paths can never diverge.
func (s *Service) HandleProviderEvent(ctx context.Context, eventType ProviderEventType, providerID, reason string) error {
	number, err := s.numbers.GetByProviderID(ctx, providerID)
	if err != nil {
		return fmt.Errorf("number service: lookup by provider id: %w", err)
	}

	now := s.clock()
	switch eventType {
	case ProviderEventProvisioned:
		if number.Status == domain.NumberStatusActive {
			return nil
		}
		err = number.Activate(providerID, now)
	case ProviderEventSuspended:
		if number.Status == domain.NumberStatusSuspended {
			return nil
		}
		err = number.Suspend(now)
	case ProviderEventActivated:
		if number.Status == domain.NumberStatusActive {
			return nil
		}
		err = number.Reactivate(now)
	case ProviderEventReleased:
		err = number.Cancel(now)
	default:
		return fmt.Errorf("%w: unknown provider event %q", apperrors.ErrValidation, eventType)
	}
	if err != nil {
		return err
	}

	if reason != "" {
		number.LastError = &reason
	}
	if err := s.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("number service: persist webhook transition: %w", err)
	}
	return nil
}

// Get returns a number by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.PurchasedNumber, error) {
	number, err := s.numbers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("number service: get: %w", err)
	}
	return number, nil
}

// GetConfiguration returns a number's configuration.
func (s *Service) GetConfiguration(ctx context.Context, id uuid.UUID) (*domain.NumberConfiguration, error) {
	return s.configs.Get(ctx, id)
}

// ListByOwner returns numbers for an owner.
func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.PurchasedNumber, error) {
	return s.numbers.ListByOwner(ctx, ownerID, limit)
}

// ListJobs returns recent jobs for a number.
func (s *Service) ListJobs(ctx context.Context, numberID uuid.UUID, limit int) ([]*domain.ProvisioningJob, error) {
	return s.jobs.ListByNumber(ctx, numberID, limit)
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*domain.ProvisioningJob, error) {
	return s.jobs.Get(ctx, id)
}
