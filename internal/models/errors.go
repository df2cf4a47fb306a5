package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error leaving a public operation wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrTransientProvider = errors.New("transient provider error")
	ErrConfiguration     = errors.New("configuration error")
	ErrExhausted         = errors.New("all fallback candidates failed")
)

// OpError attaches an operation name and an error kind to a cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports malformed caller input.
func Validation(op, format string, args ...any) error {
	return &OpError{Op: op, Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

// Configuration reports missing credentials or schema mismatches.
func Configuration(op string, err error) error {
	return &OpError{Op: op, Kind: ErrConfiguration, Err: err}
}

// Configurationf is Configuration with a formatted cause.
func Configurationf(op, format string, args ...any) error {
	return Configuration(op, fmt.Errorf(format, args...))
}

// Transient reports a retryable upstream failure.
func Transient(op string, err error) error {
	return &OpError{Op: op, Kind: ErrTransientProvider, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsTransient reports whether err is a TransientProviderError.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientProvider) }

// AttemptFailure is one failed fallback candidate.
type AttemptFailure struct {
	Model string
	Kind  string
	Err   error
}

// ExhaustionError carries every candidate failure of one invocation.
type ExhaustionError struct {
	Attempts []AttemptFailure
}

func (e *ExhaustionError) Error() string {
	if len(e.Attempts) == 0 {
		return "no fallback candidates were attempted"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", a.Model, a.Kind, a.Err))
	}
	return fmt.Sprintf("all %d candidates failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustionError) Is(target error) bool {
	return target == ErrExhausted
}

// Models lists the attempted model ids in order.
func (e *ExhaustionError) Models() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Model
	}
	return out
}
