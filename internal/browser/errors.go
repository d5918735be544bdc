// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fatal errors abort a scenario. Backends wrap their native errors with these so
// callers can classify failures with errors.Is.
var (
	ErrNavigationFailed  = errors.New("navigation failed")
	ErrElementNotFound   = errors.New("element not found")
	ErrNotInteractable   = errors.New("element not interactable")
	ErrRouteNotReady     = errors.New("route not ready")
	ErrExpectationFailed = errors.New("expectation failed")
	ErrAcquire           = errors.New("resource acquisition failed")
)

// ErrStabilizeTimeout is the cause recorded on a TimedOutNonFatal outcome. It is
// never returned from a stabilization call.
var ErrStabilizeTimeout = errors.New("stabilization timed out")

// ErrTimeout marks an operation that ran out of its own time budget. Backends
// wrap native timeout errors with it.
var ErrTimeout = errors.New("timeout")

// IsTimeout reports whether err is an operation timeout, whichever backend raised it.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// StepError identifies which acquisition step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() []error { return []error{ErrAcquire, e.Err} }

// Stability is the outcome of a best-effort readiness wait.
type Stability int

const (
	Stabilized Stability = iota
	TimedOutNonFatal
)

func (s Stability) String() string {
	if s == Stabilized {
		return "stabilized"
	}
	return "timed_out_non_fatal"
}

// MarshalText renders the stability for reports.
func (s Stability) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StabilizeOutcome records one best-effort wait. A TimedOutNonFatal outcome never
// aborts a run; Err keeps the underlying cause for logs.
type StabilizeOutcome struct {
	Target  string        `json:"target"`
	State   LoadState     `json:"state"`
	Result  Stability     `json:"result"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// OK reports whether the target reached the requested state.
func (o StabilizeOutcome) OK() bool { return o.Result == Stabilized }
