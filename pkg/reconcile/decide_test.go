package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

var decideNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func ready(attrs map[string]string) resource.ObservedState {
	return resource.ObservedState{Exists: true, Phase: resource.PhaseReady, Attributes: attrs}
}

func TestDecideAbsentMeansCreate(t *testing.T) {
	for _, kind := range resource.AllKinds() {
		d := resource.Descriptor{Kind: kind, Name: "x"}
		assert.Equal(t, resource.DecisionCreate, Decide(d, resource.NotFound(), decideNow),
			"absent %s must be created", kind)
	}
}

func TestDecideTransitionalMeansWait(t *testing.T) {
	d := resource.Descriptor{Kind: resource.KindInstance, Name: "master"}
	for _, phase := range []resource.Phase{resource.PhasePending, resource.PhaseStopping} {
		observed := resource.ObservedState{Exists: true, Phase: phase}
		assert.Equal(t, resource.DecisionWait, Decide(d, observed, decideNow))
	}
}

func TestDecideHealthyMeansNoOp(t *testing.T) {
	cases := []resource.Descriptor{
		{Kind: resource.KindSecurityGroup, Name: "sg", Spec: resource.SecurityGroupSpec{}},
		{Kind: resource.KindIamRole, Name: "role", Spec: resource.IamRoleSpec{}},
		{Kind: resource.KindKeyPair, Name: "kp", Spec: resource.KeyPairSpec{}},
		{Kind: resource.KindEcrRepository, Name: "reg", Spec: resource.EcrRepositorySpec{}},
		{Kind: resource.KindDynamoTable, Name: "lock", Spec: resource.DynamoTableSpec{}},
		{Kind: resource.KindHelmRelease, Name: "ui", Spec: resource.HelmReleaseSpec{}},
	}
	for _, d := range cases {
		assert.Equal(t, resource.DecisionNoOp, Decide(d, ready(nil), decideNow),
			"healthy %s must be a no-op", d.Kind)
	}
}

func TestDecideInstanceProfileComposite(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindInstanceProfile,
		Name: "profile",
		Spec: resource.InstanceProfileSpec{RoleName: "role"},
	}

	// Profile present but role attachment missing: the composite is
	// incomplete and counts as needing creation.
	incomplete := resource.ObservedState{
		Exists:     true,
		Phase:      resource.PhaseDegraded,
		Attributes: map[string]string{resource.AttrRoleAttached: "false"},
	}
	assert.Equal(t, resource.DecisionCreate, Decide(d, incomplete, decideNow))

	complete := ready(map[string]string{resource.AttrRoleAttached: "true"})
	assert.Equal(t, resource.DecisionNoOp, Decide(d, complete, decideNow))
}

func TestDecideSecretTTL(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindK8sSecret,
		Name: "regcred",
		Spec: resource.K8sSecretSpec{Namespace: "default", TTL: 12 * time.Hour},
	}

	freshSecret := ready(map[string]string{
		resource.AttrCreatedAt: decideNow.Add(-1 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, resource.DecisionNoOp, Decide(d, freshSecret, decideNow))

	staleSecret := ready(map[string]string{
		resource.AttrCreatedAt: decideNow.Add(-13 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, resource.DecisionRefresh, Decide(d, staleSecret, decideNow))
}

func TestDecideSecretWithoutTTLNeverRefreshes(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindK8sSecret,
		Name: "plain",
		Spec: resource.K8sSecretSpec{Namespace: "default"},
	}
	old := ready(map[string]string{
		resource.AttrCreatedAt: decideNow.Add(-1000 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, resource.DecisionNoOp, Decide(d, old, decideNow))
}

func TestDecideInstanceRecreateAllowList(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindInstance,
		Name: "master",
		Spec: resource.InstanceSpec{AMI: "ami-new", InstanceType: "t3.medium"},
	}

	matching := ready(map[string]string{"ami": "ami-new", "instance_type": "t3.medium"})
	assert.Equal(t, resource.DecisionNoOp, Decide(d, matching, decideNow))

	amiDrift := ready(map[string]string{"ami": "ami-old", "instance_type": "t3.medium"})
	assert.Equal(t, resource.DecisionRecreate, Decide(d, amiDrift, decideNow))

	typeDrift := ready(map[string]string{"ami": "ami-new", "instance_type": "t3.small"})
	assert.Equal(t, resource.DecisionRecreate, Decide(d, typeDrift, decideNow))

	// Attributes outside the allow-list never force replacement.
	otherDrift := ready(map[string]string{
		"ami": "ami-new", "instance_type": "t3.medium", "public_ip": "9.9.9.9",
	})
	assert.Equal(t, resource.DecisionNoOp, Decide(d, otherDrift, decideNow))
}

func TestDecideStoppedInstanceConverges(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindInstance,
		Name: "master",
		Spec: resource.InstanceSpec{AMI: "ami-1", InstanceType: "t3.medium"},
	}
	stopped := resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseStopped,
		Attributes: map[string]string{
			"ami": "ami-1", "instance_type": "t3.medium",
		},
	}
	assert.Equal(t, resource.DecisionCreate, Decide(d, stopped, decideNow))
}

func TestDecideDegradedClusterObjectsConverge(t *testing.T) {
	helm := resource.Descriptor{Kind: resource.KindHelmRelease, Name: "ui", Spec: resource.HelmReleaseSpec{}}
	argo := resource.Descriptor{Kind: resource.KindArgoApplication, Name: "apps", Spec: resource.ArgoApplicationSpec{}}
	degraded := resource.ObservedState{Exists: true, Phase: resource.PhaseDegraded}

	assert.Equal(t, resource.DecisionCreate, Decide(helm, degraded, decideNow))
	assert.Equal(t, resource.DecisionCreate, Decide(argo, degraded, decideNow))
}

func TestDecideIsDeterministic(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindK8sSecret,
		Name: "regcred",
		Spec: resource.K8sSecretSpec{TTL: 12 * time.Hour},
	}
	observed := ready(map[string]string{
		resource.AttrCreatedAt: decideNow.Add(-2 * time.Hour).Format(time.RFC3339),
	})
	first := Decide(d, observed, decideNow)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(d, observed, decideNow))
	}
}

func TestDecideNeverProducesDelete(t *testing.T) {
	// The forward decision function must never delete; teardown is a
	// separate explicit path.
	states := []resource.ObservedState{
		resource.NotFound(),
		ready(nil),
		{Exists: true, Phase: resource.PhaseDegraded},
		{Exists: true, Phase: resource.PhaseStopped},
		{Exists: true, Phase: resource.PhasePending},
	}
	for _, kind := range resource.AllKinds() {
		d := resource.Descriptor{Kind: kind, Name: "x"}
		for _, s := range states {
			assert.NotEqual(t, resource.DecisionDelete, Decide(d, s, decideNow))
		}
	}
}
