// Package reconcile compares desired and observed state and drives the
// minimal actions that converge them, stage by stage over the declared
// dependency graph.
package reconcile

import (
	"time"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

// Decide is the pure decision function: the same (desired, observed) pair
// always yields the same decision. Wall-clock time enters only through the
// now parameter, and only for TTL-based refresh.
func Decide(d resource.Descriptor, observed resource.ObservedState, now time.Time) resource.Decision {
	if !observed.Exists {
		return resource.DecisionCreate
	}
	if observed.Phase.Transitional() {
		return resource.DecisionWait
	}

	switch d.Kind {
	case resource.KindInstanceProfile:
		// Composite resource: an existing profile without its role
		// attachment is incomplete; the create path finishes the composite.
		if observed.Attr(resource.AttrRoleAttached) != "true" {
			return resource.DecisionCreate
		}

	case resource.KindK8sSecret:
		if spec, ok := d.Spec.(resource.K8sSecretSpec); ok && spec.TTL > 0 {
			if age := observed.Age(now); age > spec.TTL {
				return resource.DecisionRefresh
			}
		}

	case resource.KindInstance:
		// The only in-place-impossible changes for an instance are its
		// image and size; anything else never justifies replacement.
		if spec, ok := d.Spec.(resource.InstanceSpec); ok {
			if recreateInstance(spec, observed) {
				return resource.DecisionRecreate
			}
		}
		// A stopped or degraded instance is converged by the create path,
		// which starts it rather than launching a duplicate.
		if observed.Phase == resource.PhaseStopped || observed.Phase == resource.PhaseDegraded {
			return resource.DecisionCreate
		}

	case resource.KindHelmRelease, resource.KindArgoApplication:
		// Both actuate through idempotent upgrade/apply calls, so a failed
		// object is converged in place by the create path.
		if observed.Phase == resource.PhaseDegraded {
			return resource.DecisionCreate
		}
	}

	return resource.DecisionNoOp
}

// recreateInstance is the explicit allow-list of immutable instance spec
// changes that force replacement.
func recreateInstance(spec resource.InstanceSpec, observed resource.ObservedState) bool {
	if ami := observed.Attr("ami"); ami != "" && ami != spec.AMI {
		return true
	}
	if itype := observed.Attr("instance_type"); itype != "" && itype != spec.InstanceType {
		return true
	}
	return false
}
