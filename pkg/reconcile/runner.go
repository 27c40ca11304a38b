package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/chalkan3/kubeforge/internal/audit"
	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/probe"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// Executor performs the side-effecting call for one decision and waits for
// the resource to reach a stable terminal phase. It returns the final
// discovered attributes for the ledger.
type Executor interface {
	Execute(ctx context.Context, d resource.Descriptor, decision resource.Decision, observed resource.ObservedState) (map[string]string, error)
}

// Outcome records what happened to one resource during a pass.
type Outcome struct {
	Descriptor resource.Descriptor
	Decision   resource.Decision
	Attributes map[string]string
	Err        error
	Skipped    bool
	SkipReason string
	Duration   time.Duration
}

// PassResult aggregates a full reconciliation pass.
type PassResult struct {
	Outcomes []Outcome
	Aborted  bool
	AbortErr error
}

// Counts returns how many outcomes landed on each decision.
func (r *PassResult) Counts() map[resource.Decision]int {
	counts := make(map[resource.Decision]int)
	for _, o := range r.Outcomes {
		if o.Err == nil && !o.Skipped {
			counts[o.Decision]++
		}
	}
	return counts
}

// Failed returns the outcomes that errored.
func (r *PassResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Reconciler drives reconciliation passes over a dependency graph.
type Reconciler struct {
	prober   probe.Prober
	executor Executor
	ledger   ledger.Ledger
	auditor  *audit.Logger
	now      func() time.Time

	// OnDecision, when set, is called before each decision executes. Used
	// by the CLI for progress output.
	OnDecision func(d resource.Descriptor, decision resource.Decision)
}

// New creates a Reconciler.
func New(prober probe.Prober, executor Executor, led ledger.Ledger, auditor *audit.Logger) *Reconciler {
	return &Reconciler{
		prober:   prober,
		executor: executor,
		ledger:   led,
		auditor:  auditor,
		now:      time.Now,
	}
}

// Plan probes every resource and returns the decisions a pass would take,
// without executing anything.
func (r *Reconciler) Plan(ctx context.Context, graph *resource.Graph) (*PassResult, error) {
	result := &PassResult{}
	for _, stage := range graph.Stages() {
		for _, d := range stage {
			observed, err := r.prober.Probe(ctx, d)
			if err != nil {
				result.Outcomes = append(result.Outcomes, Outcome{Descriptor: d, Err: err})
				continue
			}
			result.Outcomes = append(result.Outcomes, Outcome{
				Descriptor: d,
				Decision:   Decide(d, observed, r.now()),
				Attributes: observed.Attributes,
			})
		}
	}
	return result, nil
}

// Run executes a full reconciliation pass: probe, decide, execute, record -
// stage by stage with a strict barrier between stages. Resources are
// reconciled to completion (terminal phase) before their dependents start.
//
// Failure policy: an unrecoverable provider rejection aborts the whole pass
// immediately; a propagation timeout fails only its own dependency branch;
// dependents of a failed resource are skipped, independent resources proceed.
func (r *Reconciler) Run(ctx context.Context, graph *resource.Graph) (*PassResult, error) {
	return r.RunFrom(ctx, graph, 0)
}

// RunFrom runs a pass starting at the given stage, treating earlier stages as
// already satisfied. This is the remediation path after a mid-deploy failure:
// completed stages are verified cheaply by the ledger having their entries,
// and the pass resumes where it stopped.
func (r *Reconciler) RunFrom(ctx context.Context, graph *resource.Graph, fromStage int) (*PassResult, error) {
	result := &PassResult{}
	failed := make(map[string]bool)

	for stageIdx, stage := range graph.Stages() {
		if stageIdx < fromStage {
			continue
		}
		for _, d := range stage {
			if blockedBy := r.blockedBy(d, failed); blockedBy != "" {
				failed[d.Name] = true
				result.Outcomes = append(result.Outcomes, Outcome{
					Descriptor: d,
					Skipped:    true,
					SkipReason: fmt.Sprintf("dependency %s failed earlier in this pass", blockedBy),
				})
				continue
			}

			outcome := r.reconcileOne(ctx, d, stageIdx)
			result.Outcomes = append(result.Outcomes, outcome)

			if outcome.Err != nil {
				failed[d.Name] = true
				if faults.IsFatal(outcome.Err) {
					result.Aborted = true
					result.AbortErr = outcome.Err
					return result, outcome.Err
				}
			}
		}
	}

	if failures := result.Failed(); len(failures) > 0 {
		return result, fmt.Errorf("reconciliation pass finished with %d failed resources", len(failures))
	}
	return result, nil
}

func (r *Reconciler) blockedBy(d resource.Descriptor, failed map[string]bool) string {
	for _, need := range d.Needs {
		if failed[need] {
			return need
		}
	}
	return ""
}

func (r *Reconciler) reconcileOne(ctx context.Context, d resource.Descriptor, stageIdx int) Outcome {
	start := r.now()
	outcome := Outcome{Descriptor: d}

	observed, err := r.prober.Probe(ctx, d)
	if err != nil {
		outcome.Err = err
		outcome.Duration = r.now().Sub(start)
		r.record(outcome, stageIdx)
		return outcome
	}

	outcome.Decision = Decide(d, observed, r.now())
	if r.OnDecision != nil {
		r.OnDecision(d, outcome.Decision)
	}

	switch outcome.Decision {
	case resource.DecisionNoOp:
		outcome.Attributes = observed.Attributes
	default:
		attrs, err := r.executor.Execute(ctx, d, outcome.Decision, observed)
		if err != nil {
			outcome.Err = err
			outcome.Duration = r.now().Sub(start)
			r.record(outcome, stageIdx)
			return outcome
		}
		outcome.Attributes = attrs
	}

	if len(outcome.Attributes) > 0 {
		if err := r.ledger.Upsert(d.Name, outcome.Attributes); err != nil {
			outcome.Err = fmt.Errorf("failed to record %s in ledger: %w", d.Name, err)
		}
	}

	outcome.Duration = r.now().Sub(start)
	r.record(outcome, stageIdx)
	return outcome
}

func (r *Reconciler) record(o Outcome, stageIdx int) {
	if r.auditor == nil {
		return
	}
	event := audit.Event{
		Resource: o.Descriptor.ID(),
		Stage:    stageIdx,
		Decision: string(o.Decision),
		Duration: o.Duration,
		Success:  o.Err == nil,
	}
	if o.Err != nil {
		event.Error = o.Err.Error()
	}
	if o.Skipped {
		event.Decision = "skipped"
		event.Error = o.SkipReason
	}
	r.auditor.Record(event)
}
