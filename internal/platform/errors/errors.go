// Package errors implements the taxonomy of spec.md §7: a small set of
// error kinds that the builder, backfill, and reconciliation components
// absorb into per-entity counters rather than letting propagate.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the seven taxonomy entries from spec.md §7.
type Kind string

const (
	KindInvalidInput         Kind = "invalid-input"
	KindMissingData          Kind = "missing-data"
	KindIntegrity            Kind = "integrity"
	KindCorruption           Kind = "corruption"
	KindUpstreamUnavailable  Kind = "upstream-unavailable"
	KindTransient            Kind = "transient"
	KindSchemaIncompatible   Kind = "schema-incompatible"
)

// AppError is the structured error every pipeline component returns.
type AppError struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]any
	Cause     error
	Retryable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func NewInvalidInputError(code, message string) *AppError {
	return &AppError{Kind: KindInvalidInput, Code: code, Message: message, Retryable: false}
}

func NewMissingDataError(code, message string) *AppError {
	return &AppError{Kind: KindMissingData, Code: code, Message: message, Retryable: false}
}

func NewIntegrityError(code, message string) *AppError {
	return &AppError{Kind: KindIntegrity, Code: code, Message: message, Retryable: true}
}

func NewCorruptionError(code, message string) *AppError {
	return &AppError{Kind: KindCorruption, Code: code, Message: message, Retryable: false}
}

func NewUpstreamUnavailableError(code, message string) *AppError {
	return &AppError{Kind: KindUpstreamUnavailable, Code: code, Message: message, Retryable: false}
}

func NewTransientError(code, message string) *AppError {
	return &AppError{Kind: KindTransient, Code: code, Message: message, Retryable: true}
}

func NewSchemaIncompatibleError(code, message string) *AppError {
	return &AppError{Kind: KindSchemaIncompatible, Code: code, Message: message, Retryable: false}
}

// Is reports whether err is an *AppError of the given kind.
func Is(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// upstreamUnavailablePatterns is the classifier from spec.md §4.9 step 6:
// fetch errors whose message contains any of these are reconciliation
// signals, not hard failures.
var upstreamUnavailablePatterns = []string{
	"not available",
	"dashboard returned",
	"Date selection failed",
	"not found",
	"404",
}

// ClassifyFetchError maps a raw Fetch Source error to upstream-unavailable
// when its message matches one of the known classifier substrings,
// otherwise wraps it as transient. Never panics, never returns nil for a
// non-nil input.
func ClassifyFetchError(err error) *AppError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, pattern := range upstreamUnavailablePatterns {
		if containsFold(msg, pattern) {
			return NewUpstreamUnavailableError("UPSTREAM_UNAVAILABLE", msg).WithCause(err)
		}
	}
	return NewTransientError("FETCH_FAILED", msg).WithCause(err)
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return nl == 0
	}
	hb, nb := []byte(haystack), []byte(needle)
	lower := func(b byte) byte {
		if b >= 'A' && b <= 'Z' {
			return b + ('a' - 'A')
		}
		return b
	}
	for i := 0; i+nl <= hl; i++ {
		match := true
		for j := 0; j < nl; j++ {
			if lower(hb[i+j]) != lower(nb[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
