// Package faults defines the error taxonomy used across the execution
// engine. Errors are tagged with one of the exported sentinel markers so
// that the terminal write can classify them with errors.Is, and carry a
// caller-safe detail string that never exposes raw tool output.
package faults

import (
	"errors"
	"fmt"
)

// Sentinel markers. Wrap tags an error with exactly one of these.
var (
	// ErrValidation marks malformed submission input. Rejected before a
	// job is created; never enters the state machine.
	ErrValidation = errors.New("validation error")
	// ErrTransient marks a retriable execution failure (rate limiting,
	// timeout, temporary unavailability). The engine does not auto-retry;
	// the caller may resubmit.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks a non-retriable execution failure. An identical
	// resubmission is expected to fail again.
	ErrPermanent = errors.New("permanent failure")
	// ErrExhausted marks insufficient disk or queue capacity.
	ErrExhausted = errors.New("resource exhausted")
	// ErrInternal marks any unclassified failure.
	ErrInternal = errors.New("internal error")
)

// Fault kind labels, surfaced to callers via status responses.
const (
	KindValidation = "validation"
	KindTransient  = "transient"
	KindPermanent  = "permanent"
	KindExhausted  = "exhausted"
	KindInternal   = "internal"
)

type fault struct {
	marker error
	detail string
	err    error
}

func (f *fault) Error() string {
	if f.err != nil {
		return f.detail + ": " + f.err.Error()
	}
	return f.detail
}

func (f *fault) Unwrap() []error {
	if f.err != nil {
		return []error{f.marker, f.err}
	}
	return []error{f.marker}
}

// New builds a classified error from a marker and a caller-safe detail.
func New(marker error, detail string) error {
	return Wrap(marker, detail, nil)
}

// Newf is New with formatting.
func Newf(marker error, format string, args ...any) error {
	return Wrap(marker, fmt.Sprintf(format, args...), nil)
}

// Wrap tags err with the given marker and detail. A nil marker defaults to
// ErrInternal so every classified error maps to a kind.
func Wrap(marker error, detail string, err error) error {
	if marker == nil {
		marker = ErrInternal
	}
	if detail == "" {
		detail = marker.Error()
	}
	return &fault{marker: marker, detail: detail, err: err}
}

// Kind maps an error to its fault kind label. Unclassified errors are
// internal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrExhausted):
		return KindExhausted
	default:
		return KindInternal
	}
}

// Detail returns the caller-safe message for an error. For classified
// errors this is the detail string without the wrapped cause; anything else
// collapses to a generic message so internals never leak to callers.
func Detail(err error) string {
	var f *fault
	if errors.As(err, &f) {
		return f.detail
	}
	return "internal error"
}
