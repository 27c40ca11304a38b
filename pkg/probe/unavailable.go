package probe

import (
	"context"

	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// Unavailable is a placeholder prober for kinds whose backing endpoint is not
// reachable yet - cluster-layer kinds before a kubeconfig exists. Every probe
// fails with a precondition error naming the remediation, never with
// NotFound: an unreachable endpoint says nothing about resource existence.
type Unavailable struct {
	// Missing names the precondition, e.g. "cluster kubeconfig".
	Missing string
}

// Probe implements Prober.
func (u Unavailable) Probe(_ context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	return resource.ObservedState{}, &faults.PreconditionMissing{
		Resource: d.ID(),
		Missing:  u.Missing,
	}
}
