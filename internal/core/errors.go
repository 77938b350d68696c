package core

import (
	"errors"
	"fmt"
)

// ValidationError rejects a run request before any adapter executes. No state
// is mutated when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid run request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid run request: field %q: %s", e.Field, e.Reason)
}

// ConflictError reports that a run for the collector is already in flight.
// The second request is rejected immediately, never queued.
type ConflictError struct {
	Collector string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("collector %q already has a run in flight", e.Collector)
}

// NotFoundError reports an unrecognized collector name.
type NotFoundError struct {
	Collector string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown collector %q", e.Collector)
}

// DisabledError reports a collector that exists but is switched off in
// configuration.
type DisabledError struct {
	Collector string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("collector %q is disabled", e.Collector)
}

// ResourceError wraps a failure to reach a required local resource (index
// database, message file, cache root). When the resource is the run's own
// root the whole run fails; otherwise it is recorded per item.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// TransportError wraps a network or non-2xx failure talking to the catalog
// or the remote mail server.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTerminal reports whether the failure should not be retried. 4xx other
// than 429 is terminal for the item.
func (e *TransportError) IsTerminal() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 429
}

// AsValidation reports whether err is (or wraps) a ValidationError.
func AsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
