// Package rterrors defines the runtime's error taxonomy: invariant
// violations (fatal), resource exhaustion, kernel failure, and API
// misuse, matching spec §7.
package rterrors

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error.
type Kind string

const (
	// KindInvariant marks a fatal internal invariant violation
	// (negative counter, status regression, unexpected state).
	KindInvariant Kind = "invariant_violation"
	// KindResourceExhaustion marks a recoverable resource shortage
	// (cache cannot evict, worker allocation fails).
	KindResourceExhaustion Kind = "resource_exhaustion"
	// KindKernelFailure marks a kernel that reported failure out-of-band.
	KindKernelFailure Kind = "kernel_failure"
	// KindAPIMisuse marks a synchronously rejected client request.
	KindAPIMisuse Kind = "api_misuse"
)

// Error is the runtime's wrapped error type. It carries the
// component that raised it and the Kind used to decide propagation
// policy (§7): API misuse is rejected before any graph mutation,
// kernel failures propagate through successor marking, resource
// exhaustion is returned to the caller, invariant violations are fatal.
type Error struct {
	Component string
	Kind      Kind
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Error.
func New(component string, kind Kind, op string, err error) *Error {
	return &Error{Component: component, Kind: kind, Op: op, Err: err}
}

// Is reports whether target carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// FatalHook is invoked by Fatal before aborting the process. Tests
// override this to observe invariant violations instead of crashing
// the test binary.
var FatalHook = func(err error) {
	panic(err)
}

// Fatal reports an invariant violation. The baseline design aborts
// the process immediately; FatalHook exists purely so tests can
// substitute a non-terminating observer.
func Fatal(component, op string, err error) {
	FatalHook(New(component, KindInvariant, op, err))
}
