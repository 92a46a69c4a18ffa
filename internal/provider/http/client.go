package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acme/number-provisioning/internal/config"
	"github.com/acme/number-provisioning/internal/domain"
	"github.com/acme/number-provisioning/internal/provider"
)

// Client talks to the real telephony provisioning API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient constructs an HTTP-backed provider client with a bounded
// per-request timeout.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type provisionRequest struct {
	PhoneNumber string `json:"phone_number"`
	CountryCode string `json:"country_code"`
	AreaCode    string `json:"area_code,omitempty"`
}

type provisionResponse struct {
	DID string `json:"did"`
}

type forwardingRequest struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

type smsForwardingRequest struct {
	Email string `json:"email"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Provision allocates a number and returns the provider-assigned DID.
func (c *Client) Provision(ctx context.Context, req provider.ProvisionRequest) (string, error) {
	body := provisionRequest{
		PhoneNumber: req.PhoneNumber,
		CountryCode: req.CountryCode,
		AreaCode:    req.AreaCode,
	}

	var resp provisionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/numbers", body, &resp); err != nil {
		return "", err
	}
	if resp.DID == "" {
		return "", fmt.Errorf("%w: empty did in provision response", provider.ErrProvider)
	}
	return resp.DID, nil
}

// ConfigureVoiceForwarding pushes the call forwarding target for a DID.
func (c *Client) ConfigureVoiceForwarding(ctx context.Context, providerID string, forwardingType domain.ForwardingType, destination string) error {
	body := forwardingRequest{Type: string(forwardingType), Destination: destination}
	return c.do(ctx, http.MethodPut, "/v1/numbers/"+providerID+"/forwarding/voice", body, nil)
}

// ConfigureSmsForwarding pushes the SMS-to-email target for a DID.
func (c *Client) ConfigureSmsForwarding(ctx context.Context, providerID, email string) error {
	body := smsForwardingRequest{Email: email}
	return c.do(ctx, http.MethodPut, "/v1/numbers/"+providerID+"/forwarding/sms", body, nil)
}

// Suspend pauses service for a DID.
func (c *Client) Suspend(ctx context.Context, providerID string) error {
	return c.do(ctx, http.MethodPost, "/v1/numbers/"+providerID+"/suspend", nil, nil)
}

// Reactivate resumes service for a suspended DID.
func (c *Client) Reactivate(ctx context.Context, providerID string) error {
	return c.do(ctx, http.MethodPost, "/v1/numbers/"+providerID+"/reactivate", nil, nil)
}

// Cancel releases the DID back to the provider.
func (c *Client) Cancel(ctx context.Context, providerID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/numbers/"+providerID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("provider http: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("provider http: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", provider.ErrProvider, err)
		}
		return nil
	}

	return classifyStatus(resp)
}

// classifyStatus maps HTTP failure codes onto the provider error taxonomy.
func classifyStatus(resp *http.Response) error {
	message := readErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", provider.ErrAuthentication, resp.StatusCode, message)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", provider.ErrValidation, resp.StatusCode, message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", provider.ErrRateLimit, resp.StatusCode, message)
	default:
		return fmt.Errorf("%w: status %d: %s", provider.ErrProvider, resp.StatusCode, message)
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return string(raw)
}
