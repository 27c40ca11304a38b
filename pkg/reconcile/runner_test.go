package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalkan3/kubeforge/internal/audit"
	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// fakeProvider simulates a provider: probes read its state, executions
// mutate it the way a real create/refresh would.
type fakeProvider struct {
	mu     sync.Mutex
	states map[string]resource.ObservedState

	probeErr map[string]error
	execErr  map[string]error
	executed []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		states:   make(map[string]resource.ObservedState),
		probeErr: make(map[string]error),
		execErr:  make(map[string]error),
	}
}

func (f *fakeProvider) Probe(_ context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.probeErr[d.Name]; err != nil {
		return resource.ObservedState{}, err
	}
	state, ok := f.states[d.Name]
	if !ok {
		return resource.NotFound(), nil
	}
	return state, nil
}

func (f *fakeProvider) Execute(_ context.Context, d resource.Descriptor, decision resource.Decision, _ resource.ObservedState) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, d.Name)
	if err := f.execErr[d.Name]; err != nil {
		return nil, err
	}
	attrs := map[string]string{resource.AttrID: "id-" + d.Name}
	f.states[d.Name] = resource.ObservedState{
		Exists:     true,
		Phase:      resource.PhaseReady,
		Attributes: attrs,
	}
	return attrs, nil
}

func testGraph(t *testing.T) *resource.Graph {
	t.Helper()
	g, err := resource.NewGraph([]resource.Descriptor{
		{Kind: resource.KindIamRole, Name: "role", Spec: resource.IamRoleSpec{}},
		{Kind: resource.KindInstanceProfile, Name: "profile", Needs: []string{"role"}, Spec: resource.InstanceProfileSpec{RoleName: "role"}},
		{Kind: resource.KindSecurityGroup, Name: "sg", Spec: resource.SecurityGroupSpec{}},
		{Kind: resource.KindInstance, Name: "master", Needs: []string{"sg", "profile"}, Spec: resource.InstanceSpec{}},
		{Kind: resource.KindEcrRepository, Name: "registry", Spec: resource.EcrRepositorySpec{}},
	})
	require.NoError(t, err)
	return g
}

func TestRunCreatesEverythingOnce(t *testing.T) {
	provider := newFakeProvider()
	led := ledger.NewMemoryLedger()
	rec := New(provider, provider, led, audit.NewLogger(""))

	result, err := rec.Run(context.Background(), testGraph(t))
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Len(t, provider.executed, 5)

	// Dependencies executed before dependents.
	order := make(map[string]int)
	for i, name := range provider.executed {
		order[name] = i
	}
	assert.Less(t, order["role"], order["profile"])
	assert.Less(t, order["profile"], order["master"])
	assert.Less(t, order["sg"], order["master"])

	// Every created resource landed in the ledger.
	for _, name := range []string{"role", "profile", "sg", "master", "registry"} {
		attrs, err := led.Get(name)
		require.NoError(t, err)
		assert.Equal(t, "id-"+name, attrs[resource.AttrID])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	led := ledger.NewMemoryLedger()
	rec := New(provider, provider, led, nil)
	graph := testGraph(t)

	_, err := rec.Run(context.Background(), graph)
	require.NoError(t, err)
	firstPass := len(provider.executed)

	// Second pass against converged state must not call the executor at all.
	result, err := rec.Run(context.Background(), graph)
	require.NoError(t, err)
	assert.Len(t, provider.executed, firstPass)
	assert.Equal(t, 5, result.Counts()[resource.DecisionNoOp])
}

func TestRunSkipsDependentsOfFailures(t *testing.T) {
	provider := newFakeProvider()
	provider.execErr["sg"] = &faults.PropagationTimeout{Resource: "security-group/sg"}
	rec := New(provider, provider, ledger.NewMemoryLedger(), nil)

	result, err := rec.Run(context.Background(), testGraph(t))
	require.Error(t, err)
	assert.False(t, result.Aborted)

	byName := make(map[string]Outcome)
	for _, o := range result.Outcomes {
		byName[o.Descriptor.Name] = o
	}

	assert.Error(t, byName["sg"].Err)
	assert.True(t, byName["master"].Skipped, "dependent of failed sg must be skipped")
	assert.Contains(t, byName["master"].SkipReason, "sg")

	// Independent branches proceed.
	assert.NoError(t, byName["role"].Err)
	assert.NoError(t, byName["registry"].Err)
	assert.False(t, byName["registry"].Skipped)
}

func TestRunAbortsOnProviderRejection(t *testing.T) {
	provider := newFakeProvider()
	provider.execErr["role"] = &faults.ProviderRejected{
		Resource: "iam-role/role", Code: "AccessDenied", Err: errors.New("denied"),
	}
	rec := New(provider, provider, ledger.NewMemoryLedger(), nil)

	result, err := rec.Run(context.Background(), testGraph(t))
	require.Error(t, err)
	assert.True(t, result.Aborted)
	assert.True(t, faults.IsFatal(result.AbortErr))

	// Nothing after the rejection executed: role was first in its stage and
	// the abort is immediate.
	assert.NotContains(t, provider.executed, "master")
}

func TestRunProbeFailureFailsBranchOnly(t *testing.T) {
	provider := newFakeProvider()
	provider.probeErr["sg"] = &faults.ProbeFailed{Resource: "security-group/sg", Attempts: 5, Err: errors.New("throttled")}
	rec := New(provider, provider, ledger.NewMemoryLedger(), nil)

	result, err := rec.Run(context.Background(), testGraph(t))
	require.Error(t, err)
	assert.False(t, result.Aborted, "probe exhaustion is not fatal for the whole pass")

	byName := make(map[string]Outcome)
	for _, o := range result.Outcomes {
		byName[o.Descriptor.Name] = o
	}
	assert.True(t, faults.IsProbeFailure(byName["sg"].Err))
	assert.True(t, byName["master"].Skipped)
	assert.NoError(t, byName["registry"].Err)
}

func TestRunFromSkipsEarlierStages(t *testing.T) {
	provider := newFakeProvider()
	rec := New(provider, provider, ledger.NewMemoryLedger(), nil)
	graph := testGraph(t)

	// Stage 0 holds role, sg, registry; stage 1 profile; stage 2 master.
	result, err := rec.RunFrom(context.Background(), graph, 1)
	require.NoError(t, err)

	assert.NotContains(t, provider.executed, "role")
	assert.NotContains(t, provider.executed, "sg")
	assert.Contains(t, provider.executed, "profile")
	assert.Contains(t, provider.executed, "master")
	assert.Len(t, result.Outcomes, 2)
}

func TestPlanExecutesNothing(t *testing.T) {
	provider := newFakeProvider()
	rec := New(provider, provider, ledger.NewMemoryLedger(), nil)

	result, err := rec.Plan(context.Background(), testGraph(t))
	require.NoError(t, err)
	assert.Empty(t, provider.executed)
	assert.Len(t, result.Outcomes, 5)
	for _, o := range result.Outcomes {
		assert.Equal(t, resource.DecisionCreate, o.Decision)
	}
}

func TestRunRecordsAuditEvents(t *testing.T) {
	provider := newFakeProvider()
	auditor := audit.NewLogger("")
	rec := New(provider, provider, ledger.NewMemoryLedger(), auditor)

	_, err := rec.Run(context.Background(), testGraph(t))
	require.NoError(t, err)

	events := auditor.Events()
	assert.Len(t, events, 5)
	for _, e := range events {
		assert.True(t, e.Success)
		assert.Equal(t, auditor.RunID(), e.RunID)
		assert.Equal(t, string(resource.DecisionCreate), e.Decision)
	}
}
