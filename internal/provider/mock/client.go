package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/number-provisioning/internal/config"
	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/provider"
)

// Client simulates the provisioning API for environments without provider
// credentials. A configurable failure rate exercises the retry path.
type Client struct {
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewClient constructs a simulated provider client.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		failureRate: cfg.SimulatedFailureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewClientWithSeed constructs a deterministic simulated client for tests.
func NewClientWithSeed(failureRate float64, seed int64) *Client {
	return &Client{
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Provision simulates allocating a DID.
func (c *Client) Provision(ctx context.Context, req provider.ProvisionRequest) (string, error) {
	if err := c.maybeFail(ctx, "provision"); err != nil {
		return "", err
	}
	return "sim-" + uuid.NewString(), nil
}

// ConfigureVoiceForwarding simulates a forwarding update.
func (c *Client) ConfigureVoiceForwarding(ctx context.Context, providerID string, forwardingType domain.ForwardingType, destination string) error {
	return c.maybeFail(ctx, "configure voice forwarding")
}

// ConfigureSmsForwarding simulates an SMS forwarding update.
func (c *Client) ConfigureSmsForwarding(ctx context.Context, providerID, email string) error {
	return c.maybeFail(ctx, "configure sms forwarding")
}

// Suspend simulates suspending a DID.
func (c *Client) Suspend(ctx context.Context, providerID string) error {
	return c.maybeFail(ctx, "suspend")
}

// Reactivate simulates reactivating a DID.
func (c *Client) Reactivate(ctx context.Context, providerID string) error {
	return c.maybeFail(ctx, "reactivate")
}

// Cancel simulates releasing a DID.
func (c *Client) Cancel(ctx context.Context, providerID string) error {
	return c.maybeFail(ctx, "cancel")
}

func (c *Client) maybeFail(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrProvider, err)
	}

	c.mu.Lock()
	roll := c.rng.Float64()
	rateLimited := c.rng.Float64() < 0.2
	c.mu.Unlock()

	if roll >= c.failureRate {
		return nil
	}
	if rateLimited {
		return fmt.Errorf("%w: simulated %s throttle", provider.ErrRateLimit, op)
	}
	return fmt.Errorf("%w: simulated %s failure", provider.ErrProvider, op)
}
