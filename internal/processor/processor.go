package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/number-provisioning/internal/configapply"
	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/events"
	"github.com/acme/number-provisioning/internal/provider"
	"github.com/acme/number-provisioning/internal/repository"
	"github.com/acme/number-provisioning/internal/retry"
	apperrors "github.com/acme/number-provisioning/pkg/errors"
	"github.com/acme/number-provisioning/pkg/logger"
)

// NumberLocker serializes job execution per number across instances.
type NumberLocker interface {
	Acquire(ctx context.Context, numberID uuid.UUID) (bool, error)
	Release(ctx context.Context, numberID uuid.UUID) error
}

// EventSink receives job resolution events and failure notifications.
type EventSink interface {
	PublishLifecycle(ctx context.Context, evt events.LifecycleEvent) error
	NotifyFailure(ctx context.Context, numberID uuid.UUID, reason string) error
}

// Options bundles the processor's loop tuning knobs.
type Options struct {
	PollInterval  time.Duration
	ErrorInterval time.Duration
	WorkerCount   int
	CallTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.ErrorInterval <= 0 {
		o.ErrorInterval = 10 * time.Second
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Processor drives provisioning jobs to completion. It claims eligible jobs,
// executes the action against the provider, resolves the job and applies the
// matching number state transition.
type Processor struct {
	jobs     repository.JobQueue
	numbers  repository.NumberRepository
	configs  repository.ConfigurationRepository
	attempts repository.AttemptStore
	client   provider.Client
	applier  *configapply.Applier
	locks    NumberLocker
	sink     EventSink
	policy   retry.Policy
	logger   *logger.Logger
	opts     Options

	wake  chan struct{}
	clock func() time.Time
}

// New constructs a processor. The attempt store, locker and event sink are
// optional; absent collaborators are skipped.
func New(
	jobs repository.JobQueue,
	numbers repository.NumberRepository,
	configs repository.ConfigurationRepository,
	attempts repository.AttemptStore,
	client provider.Client,
	applier *configapply.Applier,
	locks NumberLocker,
	sink EventSink,
	policy retry.Policy,
	lg *logger.Logger,
	opts Options,
) *Processor {
	return &Processor{
		jobs:     jobs,
		numbers:  numbers,
		configs:  configs,
		attempts: attempts,
		client:   client,
		applier:  applier,
		locks:    locks,
		sink:     sink,
		policy:   policy,
		logger:   lg,
		opts:     opts.withDefaults(),
		wake:     make(chan struct{}, 1),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock substitutes the time source, for tests.
func (p *Processor) WithClock(clock func() time.Time) *Processor {
	p.clock = clock
	return p
}

// Wake nudges the polling loop so a freshly enqueued job is picked up without
// waiting out the poll interval.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run executes the processing loop with a bounded worker pool until the
// context is cancelled. Cancellation stops claiming; in-flight jobs finish on
// a detached context bounded by the call timeout.
func (p *Processor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.WorkerCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) workerLoop(ctx context.Context, worker int) {
	lg := p.logger.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			lg.Error("processor: iteration failed", zap.Error(err))
			p.sleep(ctx, p.opts.ErrorInterval)
		case !claimed:
			p.sleep(ctx, p.opts.PollInterval)
		}
	}
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-timer.C:
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed so the caller can decide between polling and draining.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.jobs.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim next job: %w", err)
	}

	// The job must resolve even when shutdown starts mid-flight.
	jobCtx := context.WithoutCancel(ctx)
	p.processJob(jobCtx, job)
	return true, nil
}

func (p *Processor) processJob(ctx context.Context, job *domain.ProvisioningJob) {
	tracer := otel.Tracer("numbers.processor")
	ctx, span := tracer.Start(ctx, "job.process", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("number.id", job.NumberID.String()),
		attribute.String("job.action", string(job.Action)),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	lg := p.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("number_id", job.NumberID.String()),
		zap.String("action", string(job.Action)),
		zap.Int("attempt", job.Attempts),
	)

	if p.locks != nil {
		acquired, err := p.locks.Acquire(ctx, job.NumberID)
		if err != nil {
			span.RecordError(err)
			lg.Error("processor: lock acquire", zap.Error(err))
			p.releaseJob(ctx, job, lg)
			return
		}
		if !acquired {
			lg.Debug("processor: number busy on another instance")
			p.releaseJob(ctx, job, lg)
			return
		}
		defer func() {
			if err := p.locks.Release(ctx, job.NumberID); err != nil {
				lg.Warn("processor: lock release", zap.Error(err))
			}
		}()
	}

	number, err := p.numbers.Get(ctx, job.NumberID)
	if err != nil {
		span.RecordError(err)
		lg.Error("processor: load number", zap.Error(err))
		if errors.Is(err, repository.ErrNotFound) {
			p.failJob(ctx, job, nil, fmt.Errorf("number %s not found", job.NumberID), lg)
		} else {
			p.resolveFailure(ctx, job, nil, err, lg)
		}
		return
	}

	start := p.clock()
	execErr := p.execute(ctx, job, number)
	duration := p.clock().Sub(start)

	p.recordAttempt(ctx, job, number, execErr, duration, lg)

	if execErr != nil {
		span.RecordError(execErr)
		p.resolveFailure(ctx, job, number, execErr, lg)
		return
	}

	if err := p.jobs.Complete(ctx, job.ID); err != nil {
		lg.Error("processor: complete job", zap.Error(err))
	}
	p.publishLifecycle(ctx, job, number, "", lg)
	lg.Info("processor: job completed", zap.String("status", string(number.Status)))
}

// execute dispatches the job action, performing the provider call and the
// matching number transition. Precondition and transition violations surface
// as ErrInvalidTransition and are never retried.
func (p *Processor) execute(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber) error {
	switch job.Action {
	case domain.JobActionProvision:
		return p.provision(ctx, job, number)
	case domain.JobActionUpdateForwarding:
		return p.updateForwarding(ctx, number)
	case domain.JobActionSuspend:
		return p.suspend(ctx, number)
	case domain.JobActionReactivate:
		return p.reactivate(ctx, number)
	case domain.JobActionCancel:
		return p.cancel(ctx, number)
	default:
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrValidation, job.Action)
	}
}

func (p *Processor) provision(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber) error {
	now := p.clock()
	if err := number.MarkProvisioning(now); err != nil {
		return err
	}
	number.Attempts = job.Attempts
	if err := p.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("persist provisioning state: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	providerID, err := p.client.Provision(callCtx, provider.ProvisionRequest{
		PhoneNumber: number.PhoneNumber,
		CountryCode: number.CountryCode,
		AreaCode:    number.AreaCode,
	})
	cancel()
	if err != nil {
		return err
	}

	if err := number.Activate(providerID, p.clock()); err != nil {
		return err
	}
	if err := p.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("persist activation: %w", err)
	}

	// Activation is committed; a configuration push failure is repairable via
	// a later update_forwarding job and must not re-run provisioning.
	if err := p.applyConfiguration(ctx, number, providerID); err != nil {
		p.logger.Warn("processor: apply configuration after activation",
			zap.String("number_id", number.ID.String()), zap.Error(err))
	}
	return nil
}

func (p *Processor) applyConfiguration(ctx context.Context, number *domain.PurchasedNumber, providerID string) error {
	cfg, err := p.configs.Get(ctx, number.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	return p.applier.Apply(callCtx, number.ID, providerID, *cfg)
}

func (p *Processor) updateForwarding(ctx context.Context, number *domain.PurchasedNumber) error {
	if number.ProviderID == nil {
		return fmt.Errorf("%w: number has no provider id", apperrors.ErrValidation)
	}

	cfg, err := p.configs.Get(ctx, number.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: number has no configuration", apperrors.ErrValidation)
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	return p.applier.Apply(callCtx, number.ID, *number.ProviderID, *cfg)
}

func (p *Processor) suspend(ctx context.Context, number *domain.PurchasedNumber) error {
	if !domain.CanTransition(number.Status, domain.NumberStatusSuspended) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, number.Status, domain.NumberStatusSuspended)
	}
	if number.ProviderID == nil {
		return fmt.Errorf("%w: number has no provider id", apperrors.ErrValidation)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	err := p.client.Suspend(callCtx, *number.ProviderID)
	cancel()
	if err != nil {
		return err
	}

	if err := number.Suspend(p.clock()); err != nil {
		return err
	}
	if err := p.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}
	return nil
}

func (p *Processor) reactivate(ctx context.Context, number *domain.PurchasedNumber) error {
	if number.Status != domain.NumberStatusSuspended {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, number.Status, domain.NumberStatusActive)
	}
	if number.ProviderID == nil {
		return fmt.Errorf("%w: number has no provider id", apperrors.ErrValidation)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	err := p.client.Reactivate(callCtx, *number.ProviderID)
	cancel()
	if err != nil {
		return err
	}

	if err := number.Reactivate(p.clock()); err != nil {
		return err
	}
	if err := p.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("persist reactivation: %w", err)
	}
	return nil
}

func (p *Processor) cancel(ctx context.Context, number *domain.PurchasedNumber) error {
	// Cancelling an already-cancelled number is a no-op success with no
	// provider call.
	if number.Status == domain.NumberStatusCancelled {
		return nil
	}

	if number.ProviderID != nil {
		callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		err := p.client.Cancel(callCtx, *number.ProviderID)
		cancel()
		if err != nil {
			return err
		}
	}

	if err := number.Cancel(p.clock()); err != nil {
		return err
	}
	if err := p.numbers.Update(ctx, number); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	return nil
}

// resolveFailure decides between rescheduling with backoff and terminal
// failure, then settles the owning number's state.
func (p *Processor) resolveFailure(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber, execErr error, lg *zap.Logger) {
	if p.retryable(job, execErr) {
		next := p.policy.NextRetry(p.clock(), job.Attempts)
		if err := p.jobs.Reschedule(ctx, job.ID, next, execErr.Error()); err != nil {
			lg.Error("processor: reschedule job", zap.Error(err))
		}
		if number != nil && job.Action == domain.JobActionProvision {
			p.recordNumberError(ctx, number, job.Attempts, execErr, lg)
		}
		lg.Warn("processor: job rescheduled", zap.Time("next_attempt", next), zap.Error(execErr))
		return
	}

	p.failJob(ctx, job, number, execErr, lg)
}

func (p *Processor) retryable(job *domain.ProvisioningJob, err error) bool {
	if errors.Is(err, apperrors.ErrInvalidTransition) || errors.Is(err, apperrors.ErrValidation) {
		return false
	}
	return p.policy.ShouldRetry(job.Attempts, job.MaxAttempts, err)
}

// rejectedByState reports whether the job failed because the request was
// illegal against the number's current state rather than because provisioning
// itself broke. Such failures must not change the number's status.
func rejectedByState(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidTransition) || errors.Is(err, apperrors.ErrValidation)
}

// failJob terminally fails the job and propagates the failure to the number.
// A failed provision marks the number failed and notifies the owner; for all
// other actions, and for jobs rejected against the number's current state,
// the number keeps its prior status with last_error set, so a failed suspend
// or a stray provision job never leaves a misleading state behind.
func (p *Processor) failJob(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber, execErr error, lg *zap.Logger) {
	reason := execErr.Error()
	if err := p.jobs.Fail(ctx, job.ID, reason); err != nil {
		lg.Error("processor: fail job", zap.Error(err))
	}

	if number != nil {
		now := p.clock()
		if job.Action == domain.JobActionProvision && !rejectedByState(execErr) {
			if err := number.MarkFailed(reason, now); err != nil {
				lg.Error("processor: mark number failed", zap.Error(err))
			} else {
				number.Attempts = job.Attempts
				if err := p.numbers.Update(ctx, number); err != nil {
					lg.Error("processor: persist failed number", zap.Error(err))
				}
			}
			p.notifyFailure(ctx, job.NumberID, reason, lg)
		} else {
			number.LastError = &reason
			number.UpdatedAt = now
			if err := p.numbers.Update(ctx, number); err != nil {
				lg.Error("processor: persist last error", zap.Error(err))
			}
		}
	} else if job.Action == domain.JobActionProvision && !rejectedByState(execErr) {
		p.notifyFailure(ctx, job.NumberID, reason, lg)
	}

	p.publishLifecycle(ctx, job, number, reason, lg)
	lg.Error("processor: job terminally failed", zap.Error(execErr))
}

func (p *Processor) recordNumberError(ctx context.Context, number *domain.PurchasedNumber, attempt int, execErr error, lg *zap.Logger) {
	reason := execErr.Error()
	number.Attempts = attempt
	number.LastError = &reason
	number.UpdatedAt = p.clock()
	if err := p.numbers.Update(ctx, number); err != nil {
		lg.Error("processor: persist attempt error", zap.Error(err))
	}
}

func (p *Processor) releaseJob(ctx context.Context, job *domain.ProvisioningJob, lg *zap.Logger) {
	at := p.clock().Add(2 * time.Second)
	if err := p.jobs.Release(ctx, job.ID, at); err != nil {
		lg.Error("processor: release job", zap.Error(err))
	}
}

func (p *Processor) recordAttempt(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber, execErr error, duration time.Duration, lg *zap.Logger) {
	if p.attempts == nil {
		return
	}

	record := repository.AttemptRecord{
		ID:         uuid.New(),
		NumberID:   job.NumberID,
		JobID:      job.ID,
		Action:     job.Action,
		AttemptNum: job.Attempts,
		Success:    execErr == nil,
		Duration:   duration,
		CreatedAt:  p.clock(),
	}
	if execErr != nil {
		record.Error = execErr.Error()
	}
	if number != nil && number.ProviderID != nil {
		record.ProviderID = *number.ProviderID
	}

	if err := p.attempts.Append(ctx, record); err != nil {
		lg.Warn("processor: record attempt", zap.Error(err))
	}
}

func (p *Processor) publishLifecycle(ctx context.Context, job *domain.ProvisioningJob, number *domain.PurchasedNumber, errMsg string, lg *zap.Logger) {
	if p.sink == nil {
		return
	}

	evt := events.LifecycleEvent{
		NumberID:   job.NumberID,
		Action:     job.Action,
		Attempt:    job.Attempts,
		Error:      errMsg,
		OccurredAt: p.clock(),
	}
	if number != nil {
		evt.PhoneNumber = number.PhoneNumber
		evt.Status = number.Status
		evt.ProviderID = number.ProviderID
	}

	if err := p.sink.PublishLifecycle(ctx, evt); err != nil {
		lg.Warn("processor: publish lifecycle event", zap.Error(err))
	}
}

func (p *Processor) notifyFailure(ctx context.Context, numberID uuid.UUID, reason string, lg *zap.Logger) {
	if p.sink == nil {
		return
	}
	if err := p.sink.NotifyFailure(ctx, numberID, reason); err != nil {
		lg.Warn("processor: notify failure", zap.Error(err))
	}
}
