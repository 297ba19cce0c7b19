// Package services implements the business logic of the test-generation
// engine. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// Provider-side failures are NOT represented here: by contract they travel
// in-band as sentinel text values (see the ai package). ProviderError wraps
// such a sentinel only at non-streaming boundaries where a Go error is the
// natural return shape.
package services

import "errors"

var (
	// ErrEmptyRequirement is returned when a generation request carries no
	// requirement text.
	ErrEmptyRequirement = errors.New("requirement is empty")

	// ErrInvalidTargetCount is returned when the requested total count is
	// below 1.
	ErrInvalidTargetCount = errors.New("target count must be at least 1")

	// ErrUnparsableOutput is returned by non-streaming generation when the
	// recovery parser could not extract any structured value after all
	// retries.
	ErrUnparsableOutput = errors.New("model output could not be parsed")
)

// ProviderError carries a provider sentinel text value across a
// non-streaming boundary. The Text field preserves the verbatim sentinel
// for diagnostics.
type ProviderError struct {
	Text string
}

// Error returns the verbatim sentinel text.
func (e *ProviderError) Error() string { return e.Text }
