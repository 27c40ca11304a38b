// Package faults defines the error taxonomy shared by the prober, executor
// and reconciler. Every failure carries the resource, the stage it happened
// in, and the remediation command to rerun, so a partial run is always
// resumable from the failed stage forward.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ProbeFailed means the provider was unreachable or rate-limited and retries
// were exhausted. A probe failure is never treated as NotFound.
type ProbeFailed struct {
	Resource string
	Attempts int
	Err      error
}

func (e *ProbeFailed) Error() string {
	return fmt.Sprintf("probe of %s failed after %d attempts: %v", e.Resource, e.Attempts, e.Err)
}

func (e *ProbeFailed) Unwrap() error { return e.Err }

// PreconditionMissing means a required prior resource is absent. Fatal for
// the pass; the operator is told which earlier stage to rerun.
type PreconditionMissing struct {
	Resource string
	Missing  string
	Stage    int
}

func (e *PreconditionMissing) Error() string {
	return fmt.Sprintf("resource %s requires %s which is absent; rerun from stage %d (kubeforge up --from-stage %d)",
		e.Resource, e.Missing, e.Stage, e.Stage)
}

// PropagationTimeout means a bounded wait for a provider-side condition was
// exceeded. Fatal for this resource; independent resources may proceed.
type PropagationTimeout struct {
	Resource  string
	Condition string
	Waited    time.Duration
}

func (e *PropagationTimeout) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s on %s", e.Waited, e.Condition, e.Resource)
}

// ProviderRejected means the provider refused the request outright
// (permission denied, quota exceeded, validation error). Never retried; the
// whole reconciliation pass aborts because downstream resources may depend
// on the rejected one.
type ProviderRejected struct {
	Resource string
	Code     string
	Err      error
}

func (e *ProviderRejected) Error() string {
	return fmt.Sprintf("provider rejected %s (%s): %v", e.Resource, e.Code, e.Err)
}

func (e *ProviderRejected) Unwrap() error { return e.Err }

// IsFatal reports whether the error must abort the whole reconciliation pass
// rather than just the affected dependency branch.
func IsFatal(err error) bool {
	var rejected *ProviderRejected
	var missing *PreconditionMissing
	return errors.As(err, &rejected) || errors.As(err, &missing)
}

// IsProbeFailure reports whether the error is an exhausted probe.
func IsProbeFailure(err error) bool {
	var pf *ProbeFailed
	return errors.As(err, &pf)
}

// IsTimeout reports whether the error is a bounded-wait expiry.
func IsTimeout(err error) bool {
	var pt *PropagationTimeout
	return errors.As(err, &pt)
}
