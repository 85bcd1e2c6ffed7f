package redpanda

import (
	"context"
	"errors"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// classifyFailure maps a handler error to a stable code for metrics and
// dead-letter headers. Codes match the HTTP error envelope.
func classifyFailure(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrUpstreamExhausted):
		return "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrRateLimited):
		return "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

// retryable reports whether the consumer retries inline. Exhaustion, timeouts
// and bad input go straight to the dead-letter topic.
func retryable(err error) bool {
	switch classifyFailure(err) {
	case "INTERNAL", "SCHEMA_INVALID":
		return true
	}
	return false
}
