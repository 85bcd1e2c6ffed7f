// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the chat, scoring and assessment endpoints, the admin
// credential API and the health probes. Handlers translate HTTP into
// usecase calls; all error mapping goes through writeError.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrUpstreamExhausted):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_UNAVAILABLE"
		msg = "all AI providers are unavailable, try again later"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		code = http.StatusServiceUnavailable
		codeStr = "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrCodecNotConfigured):
		code = http.StatusServiceUnavailable
		codeStr = "NOT_CONFIGURED"
	}
	if code >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed", "code", codeStr, "error", err)
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeJSON reads a JSON body of at most maxBytes into v and validates its
// struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("%w: payload too large", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(v); err != nil {
		return validationError{err: err}
	}
	return nil
}

// validationError carries field-level details for the error envelope.
type validationError struct{ err error }

func (e validationError) Error() string { return "validation failed" }
func (e validationError) Unwrap() error { return domain.ErrInvalidArgument }

func (e validationError) details() map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(e.err, &ve) {
		for _, fe := range ve {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return out
}

// writeDecodeError writes err from decodeJSON with validation details when present.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validationError
	if errors.As(err, &ve) {
		writeError(w, r, err, ve.details())
		return
	}
	writeError(w, r, err, nil)
}
