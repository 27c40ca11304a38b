package resource

import "time"

// Phase is a provider-reported lifecycle phase, normalized across kinds.
type Phase string

const (
	// PhaseUnknown means the prober could not classify the provider state.
	PhaseUnknown Phase = "unknown"
	// PhaseAbsent means the resource does not exist.
	PhaseAbsent Phase = "absent"
	// PhasePending means the resource is being created by the provider.
	PhasePending Phase = "pending"
	// PhaseReady is the terminal-healthy phase (running / deployed / active).
	PhaseReady Phase = "ready"
	// PhaseDegraded means the resource exists but is not healthy.
	PhaseDegraded Phase = "degraded"
	// PhaseStopping means the provider is transitioning the resource down.
	PhaseStopping Phase = "stopping"
	// PhaseStopped means the resource exists but is halted.
	PhaseStopped Phase = "stopped"
	// PhaseTerminated means the resource is gone or irreversibly shutting down.
	PhaseTerminated Phase = "terminated"
)

// Terminal reports whether no further provider-driven transition will occur
// without explicit action.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReady, PhaseStopped, PhaseTerminated, PhaseAbsent, PhaseDegraded:
		return true
	}
	return false
}

// Transitional reports whether the provider is still moving the resource
// between states. Acting on a transitional resource races the provider, so
// the reconciler waits instead.
func (p Phase) Transitional() bool {
	return p == PhasePending || p == PhaseStopping
}

// ObservedState is the live-queried counterpart of a Descriptor. It is
// fetched fresh on every reconciliation pass and never cached across passes.
type ObservedState struct {
	Exists     bool
	Phase      Phase
	Attributes map[string]string
	ObservedAt time.Time
}

// NotFound returns the observed state for a resource that does not exist.
func NotFound() ObservedState {
	return ObservedState{Exists: false, Phase: PhaseAbsent}
}

// Attr returns a discovered attribute value, or "" when absent.
func (s ObservedState) Attr(key string) string {
	return s.Attributes[key]
}

// Age returns how long ago the resource was created, based on the
// created_at attribute. Returns zero when the attribute is missing.
func (s ObservedState) Age(now time.Time) time.Duration {
	raw := s.Attributes[AttrCreatedAt]
	if raw == "" {
		return 0
	}
	created, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	return now.Sub(created)
}

// Well-known attribute keys recorded by probers and persisted to the ledger.
const (
	AttrID            = "id"
	AttrArn           = "arn"
	AttrPublicIP      = "public_ip"
	AttrPrivateIP     = "private_ip"
	AttrCreatedAt     = "created_at"
	AttrRepositoryURI = "repository_uri"
	AttrRegistryURL   = "registry_url"
	AttrRoleAttached  = "role_attached"
	AttrRevision      = "revision"
	AttrSyncStatus    = "sync_status"
	AttrHealth        = "health"
)

// Decision is the output of comparing desired vs observed state.
type Decision string

const (
	// DecisionNoOp means observed matches desired in a terminal-healthy phase.
	DecisionNoOp Decision = "noop"
	// DecisionCreate means the resource must be created.
	DecisionCreate Decision = "create"
	// DecisionRefresh rotates a time-limited credential without touching
	// dependent resources.
	DecisionRefresh Decision = "refresh"
	// DecisionRecreate replaces a resource whose spec cannot be updated
	// in place. Only produced for kinds on the explicit allow-list.
	DecisionRecreate Decision = "recreate"
	// DecisionDelete removes a resource. Only the teardown planner produces
	// this; the forward reconciler never does.
	DecisionDelete Decision = "delete"
	// DecisionWait means the resource is in a transitional phase and the
	// reconciler must wait for the provider before acting.
	DecisionWait Decision = "wait"
)

// Mutating reports whether executing the decision calls the provider.
func (d Decision) Mutating() bool {
	switch d {
	case DecisionCreate, DecisionRefresh, DecisionRecreate, DecisionDelete:
		return true
	}
	return false
}
