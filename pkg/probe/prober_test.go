package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

type stubProber struct {
	state resource.ObservedState
	err   error
	calls int
}

func (s *stubProber) Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	s.calls++
	return s.state, s.err
}

func TestRegistryDispatchesByKind(t *testing.T) {
	aws := &stubProber{state: resource.ObservedState{Exists: true, Phase: resource.PhaseReady}}
	cluster := &stubProber{state: resource.NotFound()}

	registry := NewRegistry()
	registry.Register(aws, resource.KindInstance, resource.KindSecurityGroup)
	registry.Register(cluster, resource.KindK8sSecret)

	state, err := registry.Probe(context.Background(), resource.Descriptor{Kind: resource.KindInstance, Name: "m"})
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, 1, aws.calls)
	assert.Zero(t, cluster.calls)

	state, err = registry.Probe(context.Background(), resource.Descriptor{Kind: resource.KindK8sSecret, Name: "s"})
	require.NoError(t, err)
	assert.False(t, state.Exists)
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	_, err := NewRegistry().Probe(context.Background(), resource.Descriptor{Kind: resource.KindHelmRelease, Name: "ui"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prober registered")
}

func TestUnavailableNeverReportsNotFound(t *testing.T) {
	u := Unavailable{Missing: "cluster kubeconfig"}
	_, err := u.Probe(context.Background(), resource.Descriptor{Kind: resource.KindHelmRelease, Name: "ui"})
	require.Error(t, err)

	var pre *faults.PreconditionMissing
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, err.Error(), "cluster kubeconfig")
}

func TestWithRetriesWrapsFailureAsProbeFailed(t *testing.T) {
	cause := errors.New("access denied")
	calls := 0
	_, err := withRetries(context.Background(), "instance/m",
		func(error) bool { return false }, // non-transient: no retries
		func() (resource.ObservedState, error) {
			calls++
			return resource.ObservedState{}, cause
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient probe errors are not retried")

	var probeErr *faults.ProbeFailed
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, "instance/m", probeErr.Resource)
	assert.Equal(t, 1, probeErr.Attempts, "the reported count reflects attempts actually made")
	assert.True(t, errors.Is(err, cause))
}
