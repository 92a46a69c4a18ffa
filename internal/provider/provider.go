package provider

import (
	"context"

	"github.com/acme/number-provisioning/internal/domain"
)

// ProvisionRequest carries the phone context sent to the provisioning API.
type ProvisionRequest struct {
	PhoneNumber string
	CountryCode string
	AreaCode    string
}

// Client abstracts the external telephony provisioning API. The queue
// processor is oblivious to whether the real HTTP client or the simulated
// client backs this interface; the choice is made once at construction.
type Client interface {
	// Provision allocates the number at the provider and returns the
	// provider-assigned id (DID reference).
	Provision(ctx context.Context, req ProvisionRequest) (string, error)
	ConfigureVoiceForwarding(ctx context.Context, providerID string, forwardingType domain.ForwardingType, destination string) error
	ConfigureSmsForwarding(ctx context.Context, providerID, email string) error
	Suspend(ctx context.Context, providerID string) error
	Reactivate(ctx context.Context, providerID string) error
	Cancel(ctx context.Context, providerID string) error
}
