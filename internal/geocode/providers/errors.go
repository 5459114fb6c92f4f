package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory defines the normalized failure taxonomy.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the provider returned malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates a missing or rejected access token
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the provider is unreachable or failing
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorNotFound indicates the query matched nothing
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates an unexpected failure, including panics
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps provider failures with normalized categorization.
type ProviderError struct {
	Category   ErrorCategory
	Provider   string
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(category ErrorCategory, provider, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// IsUnhealthy reports whether err says something about the provider's health.
// An empty result does not; outages and timeouts do.
func IsUnhealthy(err error) bool {
	switch GetCategory(err) {
	case ErrorTimeout, ErrorProviderOutage, ErrorRateLimited, ErrorInternal:
		return true
	}
	return false
}

// classifyTransport maps an http.Client error to a ProviderError.
func classifyTransport(provider string, err error) *ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(ErrorTimeout, provider, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, provider, "request failed", err)
}

// classifyStatus maps a non-2xx status to a ProviderError.
func classifyStatus(provider string, status int) *ProviderError {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, provider, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, provider, msg, nil)
	case status == http.StatusNotFound:
		return NewProviderError(ErrorNotFound, provider, msg, nil)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, provider, msg, nil)
	default:
		return NewProviderError(ErrorBadData, provider, msg, nil)
	}
}

// Sentinel errors for configuration problems.
var (
	ErrUnknownProviderType = errors.New("unknown provider type")
	ErrNoProviders         = errors.New("no geocoding providers configured")
)
