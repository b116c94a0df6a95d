package core

import (
	"errors"
	"fmt"
)

// Error kinds for the failure taxonomy. Components wrap their failures with
// one of these sentinels so the orchestrator can pick the degraded path with
// errors.Is instead of string matching.
var (
	// ErrTransient covers network failures and timeouts on outbound calls.
	// Retried once with backoff inside the owning client, then degraded.
	ErrTransient = errors.New("transient service error")

	// ErrMalformedResponse means the LLM returned output that could not be
	// parsed (expansion JSON, rerank JSON). The caller falls back to the
	// unmodified query or ranking.
	ErrMalformedResponse = errors.New("malformed service response")

	// ErrConfig is a missing or invalid startup setting. Fatal before
	// serving any query.
	ErrConfig = errors.New("configuration error")

	// ErrValidation is rejected caller input, e.g. an empty question.
	ErrValidation = errors.New("validation error")
)

// Transientf wraps a formatted message with ErrTransient.
func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrTransient}, args...)...)
}

// Malformedf wraps a formatted message with ErrMalformedResponse.
func Malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedResponse}, args...)...)
}

// Configf wraps a formatted message with ErrConfig.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfig}, args...)...)
}

// Validationf wraps a formatted message with ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}
