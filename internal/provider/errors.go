package provider

import "errors"

// Error taxonomy surfaced to callers. Authentication and validation failures
// are fatal: the request will never succeed, so retrying only burns the
// backoff schedule. Rate limits and generic provider errors are transient.
var (
	ErrAuthentication = errors.New("provider: authentication failed")
	ErrValidation     = errors.New("provider: request rejected as invalid")
	ErrRateLimit      = errors.New("provider: rate limited")
	ErrProvider       = errors.New("provider: request failed")
)

// Fatal reports whether the error class must suppress retries.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrValidation)
}
