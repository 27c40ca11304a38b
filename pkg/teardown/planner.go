// Package teardown removes provisioned resources in reverse dependency order
// with confirmed-deletion barriers: a resource is never deleted while any of
// its dependents is still observable at the provider. Teardown is re-runnable
// after partial failures; already-absent resources are recorded, not errored.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chalkan3/kubeforge/internal/audit"
	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/probe"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/retry"
)

// Status is the teardown state of one resource.
type Status string

const (
	// StatusPresent means the resource still exists and awaits deletion.
	StatusPresent Status = "present"
	// StatusAbsent means the resource was already gone before this run.
	StatusAbsent Status = "absent"
	// StatusDeleted means deletion was issued and the provider confirmed
	// the resource gone.
	StatusDeleted Status = "deleted"
	// StatusSkipped means deletion was withheld because a dependent still
	// exists or failed to delete.
	StatusSkipped Status = "skipped"
	// StatusFailed means the delete call or the gone-confirmation failed.
	StatusFailed Status = "failed"
)

// Deleter issues the provider-side removal of one resource.
type Deleter interface {
	Delete(ctx context.Context, d resource.Descriptor, attrs map[string]string) error
}

// Step records the teardown outcome of one resource.
type Step struct {
	Descriptor resource.Descriptor
	Status     Status
	Reason     string
	Err        error
	Duration   time.Duration
}

// Report aggregates a teardown run.
type Report struct {
	Steps []Step
}

// Clean reports whether every resource ended absent or deleted.
func (r *Report) Clean() bool {
	for _, s := range r.Steps {
		if s.Status != StatusAbsent && s.Status != StatusDeleted {
			return false
		}
	}
	return true
}

// Counts returns how many steps ended in each status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, s := range r.Steps {
		counts[s.Status]++
	}
	return counts
}

// Planner walks the dependency graph in reverse and deletes with barriers.
type Planner struct {
	prober  probe.Prober
	deleter Deleter
	ledger  ledger.Ledger
	auditor *audit.Logger

	pollInterval time.Duration
	stageTimeout time.Duration

	// OnStep, when set, is called as each resource's outcome is known. Used
	// by the CLI for progress output.
	OnStep func(step Step)
}

// NewPlanner creates a Planner.
func NewPlanner(prober probe.Prober, deleter Deleter, led ledger.Ledger, auditor *audit.Logger, pollInterval, stageTimeout time.Duration) *Planner {
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	if stageTimeout == 0 {
		stageTimeout = 10 * time.Minute
	}
	return &Planner{
		prober:       prober,
		deleter:      deleter,
		ledger:       led,
		auditor:      auditor,
		pollInterval: pollInterval,
		stageTimeout: stageTimeout,
	}
}

// Plan probes every resource and reports what a run would delete, in order,
// without issuing any deletion.
func (p *Planner) Plan(ctx context.Context, graph *resource.Graph) (*Report, error) {
	report := &Report{}
	for _, stage := range graph.ReverseStages() {
		for _, d := range stage {
			state, err := p.prober.Probe(ctx, d)
			if err != nil {
				if deletedWithHost(d, err) {
					report.Steps = append(report.Steps, Step{
						Descriptor: d,
						Status:     StatusAbsent,
						Reason:     "cluster unreachable; removed with its host instances",
					})
					continue
				}
				report.Steps = append(report.Steps, Step{Descriptor: d, Status: StatusFailed, Err: err})
				continue
			}
			status := StatusAbsent
			if state.Exists {
				status = StatusPresent
			}
			report.Steps = append(report.Steps, Step{Descriptor: d, Status: status})
		}
	}
	return report, nil
}

// Run deletes every resource of the graph in reverse stage order. Within the
// walk each resource is gated on all of its direct dependents being confirmed
// gone first: a security group is never deleted while an instance that
// references it still exists, no matter what the ledger claims.
func (p *Planner) Run(ctx context.Context, graph *resource.Graph) (*Report, error) {
	report := &Report{}
	gone := make(map[string]bool, len(graph.Descriptors()))

	for _, stage := range graph.ReverseStages() {
		for _, d := range stage {
			step := p.teardownOne(ctx, graph, d, gone)
			if step.Status == StatusAbsent || step.Status == StatusDeleted {
				gone[d.Name] = true
				// The entry is stale the moment the provider confirms the
				// resource gone.
				if err := p.ledger.Delete(d.Name); err != nil {
					step.Err = fmt.Errorf("failed to drop %s from ledger: %w", d.Name, err)
					step.Status = StatusFailed
				}
			}
			report.Steps = append(report.Steps, step)
			p.record(step)
			if p.OnStep != nil {
				p.OnStep(step)
			}
		}
	}

	if !report.Clean() {
		counts := report.Counts()
		return report, fmt.Errorf("teardown incomplete: %d failed, %d skipped",
			counts[StatusFailed], counts[StatusSkipped])
	}
	return report, nil
}

func (p *Planner) teardownOne(ctx context.Context, graph *resource.Graph, d resource.Descriptor, gone map[string]bool) Step {
	start := time.Now()
	step := Step{Descriptor: d}

	for _, dep := range graph.Dependents(d.Name) {
		if !gone[dep] {
			step.Status = StatusSkipped
			step.Reason = fmt.Sprintf("dependent %s is not confirmed gone", dep)
			step.Duration = time.Since(start)
			return step
		}
	}

	state, err := p.prober.Probe(ctx, d)
	if err != nil {
		if deletedWithHost(d, err) {
			step.Status = StatusAbsent
			step.Reason = "cluster unreachable; removed with its host instances"
			step.Duration = time.Since(start)
			return step
		}
		step.Status = StatusFailed
		step.Err = err
		step.Duration = time.Since(start)
		return step
	}
	if !state.Exists {
		step.Status = StatusAbsent
		step.Duration = time.Since(start)
		return step
	}

	attrs := state.Attributes
	if stored, err := p.ledger.Get(d.Name); err == nil {
		// Prefer probed attributes; fill gaps (e.g. ids) from the ledger.
		for k, v := range stored {
			if attrs[k] == "" {
				if attrs == nil {
					attrs = make(map[string]string)
				}
				attrs[k] = v
			}
		}
	}

	if err := p.deleter.Delete(ctx, d, attrs); err != nil {
		step.Status = StatusFailed
		step.Err = err
		step.Duration = time.Since(start)
		return step
	}

	if err := p.confirmGone(ctx, d); err != nil {
		step.Status = StatusFailed
		step.Err = err
		step.Duration = time.Since(start)
		return step
	}

	step.Status = StatusDeleted
	step.Duration = time.Since(start)
	return step
}

// deletedWithHost reports whether a probe failure may be treated as the
// resource being gone. In-cluster resources live on the very instances this
// teardown removes, so an unreachable cluster (no kubeconfig, or the API
// server already terminated) must never block the instances beneath it:
// deleting the hosts deletes these resources with them.
func deletedWithHost(d resource.Descriptor, err error) bool {
	switch d.Kind {
	case resource.KindK8sSecret, resource.KindHelmRelease, resource.KindArgoApplication:
	default:
		return false
	}
	var missing *faults.PreconditionMissing
	var probeErr *faults.ProbeFailed
	return errors.As(err, &missing) || errors.As(err, &probeErr)
}

// confirmGone polls the provider until the resource is no longer observable.
// A delete call returning success only means the request was accepted;
// dependents below in the walk are gated on this confirmation.
func (p *Planner) confirmGone(ctx context.Context, d resource.Descriptor) error {
	err := retry.Poll(ctx, retry.PollOptions{Interval: p.pollInterval, Timeout: p.stageTimeout},
		func(ctx context.Context) (bool, error) {
			state, err := p.prober.Probe(ctx, d)
			if err != nil {
				return false, err
			}
			return !state.Exists, nil
		})
	if err == retry.ErrPollTimeout {
		return &faults.PropagationTimeout{
			Resource:  d.ID(),
			Condition: "deletion confirmed by provider",
			Waited:    p.stageTimeout,
		}
	}
	return err
}

func (p *Planner) record(step Step) {
	if p.auditor == nil {
		return
	}
	event := audit.Event{
		Resource: step.Descriptor.ID(),
		Decision: string(resource.DecisionDelete),
		Duration: step.Duration,
		Success:  step.Status == StatusAbsent || step.Status == StatusDeleted,
	}
	if step.Err != nil {
		event.Error = step.Err.Error()
	} else if step.Reason != "" {
		event.Error = step.Reason
	}
	p.auditor.Record(event)
}
