package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/number-provisioning/internal/configapply"
	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/events"
	"github.com/acme/number-provisioning/internal/provider"
	"github.com/acme/number-provisioning/internal/repository"
	"github.com/acme/number-provisioning/internal/retry"
	"github.com/acme/number-provisioning/pkg/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.ProvisioningJob
	now  func() time.Time
}

func newMemQueue(now func() time.Time) *memQueue {
	return &memQueue{jobs: map[uuid.UUID]*domain.ProvisioningJob{}, now: now}
}

func (q *memQueue) Enqueue(_ context.Context, job *domain.ProvisioningJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return nil
}

func (q *memQueue) Get(_ context.Context, id uuid.UUID) (*domain.ProvisioningJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (q *memQueue) ClaimNext(_ context.Context) (*domain.ProvisioningJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var best *domain.ProvisioningJob
	for _, job := range q.jobs {
		if job.Status != domain.JobStatusPending || job.ScheduledFor.After(now) {
			continue
		}
		if q.hasProcessing(job.NumberID) {
			continue
		}
		if best == nil || job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}

	best.Status = domain.JobStatusProcessing
	best.Attempts++
	best.UpdatedAt = now
	return best, nil
}

func (q *memQueue) hasProcessing(numberID uuid.UUID) bool {
	for _, job := range q.jobs {
		if job.NumberID == numberID && job.Status == domain.JobStatusProcessing {
			return true
		}
	}
	return false
}

func (q *memQueue) Complete(_ context.Context, id uuid.UUID) error {
	return q.settle(id, domain.JobStatusCompleted, "")
}

func (q *memQueue) Fail(_ context.Context, id uuid.UUID, errMsg string) error {
	return q.settle(id, domain.JobStatusFailed, errMsg)
}

func (q *memQueue) settle(id uuid.UUID, status domain.JobStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return repository.ErrNotFound
	}
	now := q.now()
	job.Status = status
	job.ProcessedAt = &now
	job.UpdatedAt = now
	if errMsg != "" {
		job.ErrorMessage = &errMsg
	}
	return nil
}

func (q *memQueue) Release(_ context.Context, id uuid.UUID, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return repository.ErrNotFound
	}
	job.Status = domain.JobStatusPending
	job.Attempts--
	job.ScheduledFor = at
	job.UpdatedAt = q.now()
	return nil
}

func (q *memQueue) Reschedule(_ context.Context, id uuid.UUID, at time.Time, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return repository.ErrNotFound
	}
	job.Status = domain.JobStatusPending
	job.ScheduledFor = at
	job.ErrorMessage = &errMsg
	job.UpdatedAt = q.now()
	return nil
}

func (q *memQueue) ListByNumber(_ context.Context, numberID uuid.UUID, _ int) ([]*domain.ProvisioningJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*domain.ProvisioningJob
	for _, job := range q.jobs {
		if job.NumberID == numberID {
			out = append(out, job)
		}
	}
	return out, nil
}

type memNumbers struct {
	mu      sync.Mutex
	numbers map[uuid.UUID]domain.PurchasedNumber
}

func newMemNumbers() *memNumbers {
	return &memNumbers{numbers: map[uuid.UUID]domain.PurchasedNumber{}}
}

func (r *memNumbers) Create(_ context.Context, n *domain.PurchasedNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers[n.ID] = *n
	return nil
}

func (r *memNumbers) Get(_ context.Context, id uuid.UUID) (*domain.PurchasedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := n
	return &copy, nil
}

func (r *memNumbers) GetByProviderID(_ context.Context, providerID string) (*domain.PurchasedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.numbers {
		if n.ProviderID != nil && *n.ProviderID == providerID {
			copy := n
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memNumbers) Update(_ context.Context, n *domain.PurchasedNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.numbers[n.ID]; !ok {
		return repository.ErrNotFound
	}
	r.numbers[n.ID] = *n
	return nil
}

func (r *memNumbers) ListByOwner(_ context.Context, ownerID uuid.UUID, _ int) ([]*domain.PurchasedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PurchasedNumber
	for _, n := range r.numbers {
		if n.OwnerID == ownerID {
			copy := n
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (r *memNumbers) ListByStatus(_ context.Context, status domain.NumberStatus, _ int) ([]*domain.PurchasedNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PurchasedNumber
	for _, n := range r.numbers {
		if n.Status == status {
			copy := n
			out = append(out, &copy)
		}
	}
	return out, nil
}

type memConfigs struct {
	mu      sync.Mutex
	configs map[uuid.UUID]domain.NumberConfiguration
}

func newMemConfigs() *memConfigs {
	return &memConfigs{configs: map[uuid.UUID]domain.NumberConfiguration{}}
}

func (r *memConfigs) Upsert(_ context.Context, cfg *domain.NumberConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.NumberID] = *cfg
	return nil
}

func (r *memConfigs) Get(_ context.Context, numberID uuid.UUID) (*domain.NumberConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[numberID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := cfg
	return &copy, nil
}

type stubProvider struct {
	mu sync.Mutex

	provisionErr  error
	suspendErr    error
	reactivateErr error
	cancelErr     error
	voiceErr      error

	provisionCalls  int
	voiceCalls      int
	smsCalls        int
	suspendCalls    int
	reactivateCalls int
	cancelCalls     int
}

func (s *stubProvider) Provision(_ context.Context, _ provider.ProvisionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisionCalls++
	if s.provisionErr != nil {
		return "", s.provisionErr
	}
	return fmt.Sprintf("prov-%d", s.provisionCalls), nil
}

func (s *stubProvider) ConfigureVoiceForwarding(_ context.Context, _ string, _ domain.ForwardingType, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceCalls++
	return s.voiceErr
}

func (s *stubProvider) ConfigureSmsForwarding(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smsCalls++
	return nil
}

func (s *stubProvider) Suspend(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspendCalls++
	return s.suspendErr
}

func (s *stubProvider) Reactivate(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactivateCalls++
	return s.reactivateErr
}

func (s *stubProvider) Cancel(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	return s.cancelErr
}

type captureSink struct {
	mu            sync.Mutex
	events        []events.LifecycleEvent
	notifications []string
}

func (s *captureSink) PublishLifecycle(_ context.Context, evt events.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) NotifyFailure(_ context.Context, _ uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, reason)
	return nil
}

type stubLocker struct {
	mu       sync.Mutex
	busy     bool
	acquired int
	released int
}

func (l *stubLocker) Acquire(_ context.Context, _ uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *stubLocker) Release(_ context.Context, _ uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

type memAttempts struct {
	mu      sync.Mutex
	records []repository.AttemptRecord
}

func (s *memAttempts) Append(_ context.Context, attempt repository.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, attempt)
	return nil
}

func (s *memAttempts) ListByNumber(_ context.Context, numberID uuid.UUID, _ int) ([]repository.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.AttemptRecord
	for _, r := range s.records {
		if r.NumberID == numberID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixture struct {
	clock    *testClock
	queue    *memQueue
	numbers  *memNumbers
	configs  *memConfigs
	client   *stubProvider
	sink     *captureSink
	attempts *memAttempts
	proc     *Processor
}

func newFixture(t *testing.T, locks NumberLocker) *fixture {
	t.Helper()

	clock := newTestClock()
	queue := newMemQueue(clock.Now)
	numbers := newMemNumbers()
	configs := newMemConfigs()
	client := &stubProvider{}
	sink := &captureSink{}
	attempts := &memAttempts{}
	applier := configapply.New(client, configs).WithClock(clock.Now)
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour}
	lg := &logger.Logger{Logger: zap.NewNop()}

	proc := New(queue, numbers, configs, attempts, client, applier, locks, sink, policy, lg, Options{}).
		WithClock(clock.Now)

	return &fixture{
		clock:    clock,
		queue:    queue,
		numbers:  numbers,
		configs:  configs,
		client:   client,
		sink:     sink,
		attempts: attempts,
		proc:     proc,
	}
}

func (f *fixture) addNumber(t *testing.T, status domain.NumberStatus, providerID string) *domain.PurchasedNumber {
	t.Helper()
	now := f.clock.Now()
	n := &domain.PurchasedNumber{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		PhoneNumber: "+15550100",
		CountryCode: "US",
		AreaCode:    "555",
		Status:      status,
		PurchasedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if providerID != "" {
		n.ProviderID = &providerID
		n.IsActive = status == domain.NumberStatusActive
	}
	if err := f.numbers.Create(context.Background(), n); err != nil {
		t.Fatalf("create number: %v", err)
	}
	return n
}

func (f *fixture) addJob(t *testing.T, numberID uuid.UUID, action domain.JobAction) *domain.ProvisioningJob {
	t.Helper()
	job := domain.NewProvisioningJob(numberID, action, 0, nil, f.clock.Now())
	if err := f.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue job: %v", err)
	}
	return job
}

// drain runs the processor until the queue has no eligible work, advancing the
// clock past reschedule delays between iterations.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		claimed, err := f.proc.RunOnce(ctx)
		if err != nil {
			t.Fatalf("run once: %v", err)
		}
		if !claimed {
			f.clock.Advance(time.Hour)
			claimed, err = f.proc.RunOnce(ctx)
			if err != nil {
				t.Fatalf("run once: %v", err)
			}
			if !claimed {
				return
			}
		}
	}
	t.Fatal("queue did not drain")
}

func TestProvisionSuccess(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusPending, "")
	cfg := domain.NumberConfiguration{
		NumberID:         number.ID,
		ForwardingType:   domain.ForwardingMobile,
		ForwardingNumber: "+15550199",
	}
	if err := f.configs.Upsert(context.Background(), &cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	job := f.addJob(t, number.ID, domain.JobActionProvision)

	f.drain(t)

	got, err := f.numbers.Get(context.Background(), number.ID)
	if err != nil {
		t.Fatalf("get number: %v", err)
	}
	if got.Status != domain.NumberStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.ProviderID == nil || *got.ProviderID == "" {
		t.Error("provider id not recorded")
	}
	if !got.IsActive || got.ActivatedAt == nil {
		t.Errorf("activation fields not set: active=%v activatedAt=%v", got.IsActive, got.ActivatedAt)
	}

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Error("processed at not set")
	}

	if f.client.provisionCalls != 1 {
		t.Errorf("provision calls = %d, want 1", f.client.provisionCalls)
	}
	if f.client.voiceCalls != 1 {
		t.Errorf("voice forwarding calls = %d, want 1", f.client.voiceCalls)
	}

	if len(f.sink.events) != 1 || f.sink.events[0].Status != domain.NumberStatusActive {
		t.Errorf("unexpected lifecycle events: %+v", f.sink.events)
	}
	if records, _ := f.attempts.ListByNumber(context.Background(), number.ID, 10); len(records) != 1 || !records[0].Success {
		t.Errorf("unexpected attempt records: %+v", records)
	}
}

func TestProvisionExhaustsAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.client.provisionErr = fmt.Errorf("allocate: %w", provider.ErrProvider)
	number := f.addNumber(t, domain.NumberStatusPending, "")
	job := f.addJob(t, number.ID, domain.JobActionProvision)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 3 {
		t.Errorf("job attempts = %d, want 3", stored.Attempts)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusFailed {
		t.Errorf("number status = %s, want failed", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("number attempts = %d, want 3", got.Attempts)
	}
	if got.LastError == nil {
		t.Error("last error not recorded")
	}

	if f.client.provisionCalls != 3 {
		t.Errorf("provision calls = %d, want 3", f.client.provisionCalls)
	}
	if len(f.sink.notifications) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(f.sink.notifications))
	}
}

func TestProvisionFatalErrorFailsFast(t *testing.T) {
	f := newFixture(t, nil)
	f.client.provisionErr = fmt.Errorf("allocate: %w", provider.ErrValidation)
	number := f.addNumber(t, domain.NumberStatusPending, "")
	job := f.addJob(t, number.ID, domain.JobActionProvision)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("job attempts = %d, want 1 for fatal error", stored.Attempts)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusFailed {
		t.Errorf("number status = %s, want failed", got.Status)
	}
}

func TestSuspendThenReactivate(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-7")

	f.addJob(t, number.ID, domain.JobActionSuspend)
	f.drain(t)

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusSuspended || got.IsActive {
		t.Fatalf("after suspend: status=%s active=%v", got.Status, got.IsActive)
	}
	if f.client.suspendCalls != 1 {
		t.Errorf("suspend calls = %d, want 1", f.client.suspendCalls)
	}

	f.addJob(t, number.ID, domain.JobActionReactivate)
	f.drain(t)

	got, _ = f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusActive || !got.IsActive {
		t.Errorf("after reactivate: status=%s active=%v", got.Status, got.IsActive)
	}
	if f.client.reactivateCalls != 1 {
		t.Errorf("reactivate calls = %d, want 1", f.client.reactivateCalls)
	}
}

func TestCancelIdempotentAcrossJobs(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-9")

	first := f.addJob(t, number.ID, domain.JobActionCancel)
	f.drain(t)

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if f.client.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d, want 1", f.client.cancelCalls)
	}

	second := f.addJob(t, number.ID, domain.JobActionCancel)
	f.drain(t)

	if f.client.cancelCalls != 1 {
		t.Errorf("second cancel reached the provider: calls = %d", f.client.cancelCalls)
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored, _ := f.queue.Get(context.Background(), id)
		if stored.Status != domain.JobStatusCompleted {
			t.Errorf("job %s status = %s, want completed", id, stored.Status)
		}
	}
}

func TestReactivateCancelledNumberFails(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusCancelled, "prov-11")
	job := f.addJob(t, number.ID, domain.JobActionReactivate)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("invalid transitions must not retry: attempts = %d", stored.Attempts)
	}
	if f.client.reactivateCalls != 0 {
		t.Errorf("provider reactivate called %d times for a cancelled number", f.client.reactivateCalls)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusCancelled {
		t.Errorf("number status = %s, want cancelled", got.Status)
	}
}

func TestProvisionOnActiveNumberKeepsState(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-12")
	job := f.addJob(t, number.ID, domain.JobActionProvision)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("invalid transitions must not retry: attempts = %d", stored.Attempts)
	}
	if f.client.provisionCalls != 0 {
		t.Errorf("provider provision called %d times for an active number", f.client.provisionCalls)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusActive || !got.IsActive {
		t.Errorf("active number clobbered: status=%s active=%v", got.Status, got.IsActive)
	}
	if got.ProviderID == nil || *got.ProviderID != "prov-12" {
		t.Errorf("provider id mutated: %v", got.ProviderID)
	}
	if got.LastError == nil {
		t.Error("last error not recorded")
	}
	if len(f.sink.notifications) != 0 {
		t.Errorf("failure notification sent for a rejected job: %v", f.sink.notifications)
	}
}

func TestSuspendFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.client.suspendErr = fmt.Errorf("suspend: %w", provider.ErrProvider)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-13")
	job := f.addJob(t, number.ID, domain.JobActionSuspend)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusActive {
		t.Errorf("number status = %s, want active retained", got.Status)
	}
	if got.LastError == nil {
		t.Error("last error not recorded")
	}
}

func TestLockContentionReleasesJob(t *testing.T) {
	locks := &stubLocker{busy: true}
	f := newFixture(t, locks)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-17")
	job := f.addJob(t, number.ID, domain.JobActionSuspend)

	claimed, err := f.proc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatal("expected a claim")
	}

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusPending {
		t.Fatalf("job status = %s, want pending after release", stored.Status)
	}
	if stored.Attempts != 0 {
		t.Errorf("lock contention consumed an attempt: %d", stored.Attempts)
	}
	if f.client.suspendCalls != 0 {
		t.Error("provider called while the number lock was held elsewhere")
	}

	locks.busy = false
	f.clock.Advance(time.Minute)
	f.drain(t)

	stored, _ = f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed after lock freed", stored.Status)
	}
	if locks.released != locks.acquired {
		t.Errorf("lock leak: acquired %d released %d", locks.acquired, locks.released)
	}
}

func TestClaimSkipsNumbersWithProcessingJob(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusActive, "prov-19")
	f.addJob(t, number.ID, domain.JobActionSuspend)
	f.addJob(t, number.ID, domain.JobActionCancel)

	first, err := f.queue.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	if _, err := f.queue.ClaimNext(context.Background()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second claim for the same number should find nothing, got %v", err)
	}

	if err := f.queue.Complete(context.Background(), first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.queue.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim after completion: %v", err)
	}
}

func TestConfigApplyFailureDoesNotFailProvision(t *testing.T) {
	f := newFixture(t, nil)
	f.client.voiceErr = fmt.Errorf("forwarding: %w", provider.ErrProvider)
	number := f.addNumber(t, domain.NumberStatusPending, "")
	cfg := domain.NumberConfiguration{
		NumberID:         number.ID,
		ForwardingType:   domain.ForwardingMobile,
		ForwardingNumber: "+15550199",
	}
	if err := f.configs.Upsert(context.Background(), &cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	job := f.addJob(t, number.ID, domain.JobActionProvision)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed despite config push failure", stored.Status)
	}

	got, _ := f.numbers.Get(context.Background(), number.ID)
	if got.Status != domain.NumberStatusActive {
		t.Errorf("number status = %s, want active", got.Status)
	}
}

func TestUpdateForwardingRequiresProviderID(t *testing.T) {
	f := newFixture(t, nil)
	number := f.addNumber(t, domain.NumberStatusPending, "")
	job := f.addJob(t, number.ID, domain.JobActionUpdateForwarding)

	f.drain(t)

	stored, _ := f.queue.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("validation failures must not retry: attempts = %d", stored.Attempts)
	}
}
