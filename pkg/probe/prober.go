// Package probe answers "does resource X currently exist, and in what
// phase?" without side effects. Observed state is fetched fresh on every
// call; stale infrastructure state is the primary failure mode being guarded
// against, so nothing here caches.
package probe

import (
	"context"
	"fmt"

	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/retry"
)

// Prober resolves the live state of one descriptor.
type Prober interface {
	Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error)
}

// Registry dispatches probes by resource kind.
type Registry struct {
	probers map[resource.Kind]Prober
}

// NewRegistry creates an empty prober registry.
func NewRegistry() *Registry {
	return &Registry{probers: make(map[resource.Kind]Prober)}
}

// Register installs a prober for the given kinds.
func (r *Registry) Register(p Prober, kinds ...resource.Kind) {
	for _, k := range kinds {
		r.probers[k] = p
	}
}

// Probe implements Prober by dispatching on kind.
func (r *Registry) Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	p, ok := r.probers[d.Kind]
	if !ok {
		return resource.ObservedState{}, fmt.Errorf("no prober registered for kind %s", d.Kind)
	}
	return p.Probe(ctx, d)
}

// withRetries runs a probe function under the probe retry policy, retrying
// only transient provider errors. After exhaustion the error surfaces as
// ProbeFailed - an unreachable provider is never reported as NotFound.
func withRetries(ctx context.Context, name string, isTransient func(error) bool, fn func() (resource.ObservedState, error)) (resource.ObservedState, error) {
	retrier := retry.New(probePolicy(isTransient))
	attempts := 0
	state, err := retry.DoWithData(ctx, retrier, func() (resource.ObservedState, error) {
		attempts++
		return fn()
	})
	if err != nil {
		return resource.ObservedState{}, &faults.ProbeFailed{
			Resource: name,
			Attempts: attempts,
			Err:      err,
		}
	}
	return state, nil
}

func probePolicy(isTransient func(error) bool) retry.Config {
	cfg := retry.ProbeConfig()
	cfg.RetryIf = isTransient
	return cfg
}
