package configapply

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/provider"
	"github.com/acme/number-provisioning/internal/repository"
)

// Applier pushes a number's forwarding settings to the provider and keeps the
// local configuration row in sync. Apply is idempotent: the provider calls are
// PUT-style replacements and the local write is an upsert.
type Applier struct {
	client  provider.Client
	configs repository.ConfigurationRepository
	clock   func() time.Time
}

// New constructs a configuration applier.
func New(client provider.Client, configs repository.ConfigurationRepository) *Applier {
	return &Applier{
		client:  client,
		configs: configs,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock substitutes the time source, for tests.
func (a *Applier) WithClock(clock func() time.Time) *Applier {
	a.clock = clock
	return a
}

// Apply pushes forwarding settings for the provider id, skipping calls for
// unset fields, then upserts the local configuration record.
func (a *Applier) Apply(ctx context.Context, numberID uuid.UUID, providerID string, cfg domain.NumberConfiguration) error {
	if providerID == "" {
		return fmt.Errorf("configapply: provider id is required")
	}

	if cfg.ForwardingType != "" && cfg.ForwardingType != domain.ForwardingNone && cfg.ForwardingNumber != "" {
		if err := a.client.ConfigureVoiceForwarding(ctx, providerID, cfg.ForwardingType, cfg.ForwardingNumber); err != nil {
			return fmt.Errorf("configapply: voice forwarding: %w", err)
		}
	}

	if cfg.VoicemailEnabled && cfg.VoicemailEmail != "" {
		if err := a.client.ConfigureSmsForwarding(ctx, providerID, cfg.VoicemailEmail); err != nil {
			return fmt.Errorf("configapply: sms forwarding: %w", err)
		}
	}

	cfg.NumberID = numberID
	cfg.UpdatedAt = a.clock()
	if err := a.configs.Upsert(ctx, &cfg); err != nil {
		return fmt.Errorf("configapply: upsert configuration: %w", err)
	}

	return nil
}
