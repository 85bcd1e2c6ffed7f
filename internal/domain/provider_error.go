package domain

import "fmt"

// ProviderErrorKind classifies a failed provider call.
type ProviderErrorKind int

const (
	// KindNetwork covers transport failures, timeouts and 5xx responses.
	KindNetwork ProviderErrorKind = iota
	// KindAuth covers rejected, revoked or malformed credentials.
	KindAuth
	// KindRateLimited covers quota and rate-limit rejections.
	KindRateLimited
	// KindMalformed covers responses that could not be turned into reply text.
	KindMalformed
)

func (k ProviderErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	default:
		return "network"
	}
}

// ProviderError is the only error type returned by an Invoker.
type ProviderError struct {
	Kind   ProviderErrorKind
	Status int // HTTP status when one was received
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError.
func NewProviderError(kind ProviderErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Kind: kind, Status: status, Err: err}
}
