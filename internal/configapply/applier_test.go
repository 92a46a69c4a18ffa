package configapply

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/provider"
	"github.com/acme/number-provisioning/internal/repository"
)

type fakeClient struct {
	provider.Client

	voiceCalls int
	smsCalls   int
	voiceErr   error
}

func (f *fakeClient) ConfigureVoiceForwarding(_ context.Context, _ string, _ domain.ForwardingType, _ string) error {
	f.voiceCalls++
	return f.voiceErr
}

func (f *fakeClient) ConfigureSmsForwarding(_ context.Context, _, _ string) error {
	f.smsCalls++
	return nil
}

type fakeConfigs struct {
	stored *domain.NumberConfiguration
}

func (f *fakeConfigs) Upsert(_ context.Context, cfg *domain.NumberConfiguration) error {
	copy := *cfg
	f.stored = &copy
	return nil
}

func (f *fakeConfigs) Get(_ context.Context, _ uuid.UUID) (*domain.NumberConfiguration, error) {
	if f.stored == nil {
		return nil, repository.ErrNotFound
	}
	return f.stored, nil
}

func TestApplyPushesSetFields(t *testing.T) {
	client := &fakeClient{}
	configs := &fakeConfigs{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New(client, configs).WithClock(func() time.Time { return now })

	numberID := uuid.New()
	err := a.Apply(context.Background(), numberID, "prov-1", domain.NumberConfiguration{
		ForwardingType:   domain.ForwardingMobile,
		ForwardingNumber: "+15550199",
		VoicemailEnabled: true,
		VoicemailEmail:   "owner@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.voiceCalls != 1 || client.smsCalls != 1 {
		t.Errorf("calls voice=%d sms=%d, want 1 each", client.voiceCalls, client.smsCalls)
	}
	if configs.stored == nil {
		t.Fatal("configuration not persisted")
	}
	if configs.stored.NumberID != numberID || !configs.stored.UpdatedAt.Equal(now) {
		t.Errorf("persisted record wrong: %+v", configs.stored)
	}
}

func TestApplySkipsUnsetFields(t *testing.T) {
	client := &fakeClient{}
	configs := &fakeConfigs{}
	a := New(client, configs)

	err := a.Apply(context.Background(), uuid.New(), "prov-1", domain.NumberConfiguration{
		ForwardingType: domain.ForwardingNone,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.voiceCalls != 0 {
		t.Errorf("voice forwarding pushed for forwarding type none: %d calls", client.voiceCalls)
	}
	if client.smsCalls != 0 {
		t.Errorf("sms forwarding pushed without voicemail: %d calls", client.smsCalls)
	}
	if configs.stored == nil {
		t.Error("configuration should still be persisted")
	}
}

func TestApplyVoiceFailureSkipsPersist(t *testing.T) {
	client := &fakeClient{voiceErr: provider.ErrProvider}
	configs := &fakeConfigs{}
	a := New(client, configs)

	err := a.Apply(context.Background(), uuid.New(), "prov-1", domain.NumberConfiguration{
		ForwardingType:   domain.ForwardingMobile,
		ForwardingNumber: "+15550199",
	})
	if err == nil {
		t.Fatal("expected voice forwarding error")
	}
	if configs.stored != nil {
		t.Error("configuration persisted despite provider failure")
	}
}

func TestApplyRequiresProviderID(t *testing.T) {
	a := New(&fakeClient{}, &fakeConfigs{})

	if err := a.Apply(context.Background(), uuid.New(), "", domain.NumberConfiguration{}); err == nil {
		t.Fatal("expected error for empty provider id")
	}
}
