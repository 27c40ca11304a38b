package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/helmexec"
	"github.com/chalkan3/kubeforge/pkg/kube"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// fakeEC2 records calls and replays scripted errors. Rules listed in
// existingRules (by CIDR) are rejected as duplicates, as the provider does.
type fakeEC2 struct {
	runCalls       int
	startCalls     int
	terminateCalls int
	authorizeCalls [][]ec2types.IpPermission
	existingRules  map[string]bool
	authorizeErr   error
	runErr         error
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runCalls++
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &ec2.RunInstancesOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminateCalls++
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.startCalls++
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String("sg-0abc")}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.authorizeCalls = append(f.authorizeCalls, params.IpPermissions)
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	for _, perm := range params.IpPermissions {
		for _, r := range perm.IpRanges {
			if f.existingRules[aws.ToString(r.CidrIp)] {
				return nil, apiErr("InvalidPermission.Duplicate")
			}
		}
	}
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *fakeEC2) ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error) {
	return &ec2.ImportKeyPairOutput{}, nil
}

func (f *fakeEC2) DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
	return &ec2.DeleteKeyPairOutput{}, nil
}

// fakeIAM records the order of role mutations.
type fakeIAM struct {
	attached []string
	calls    []string
}

func (f *fakeIAM) CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.calls = append(f.calls, "CreateRole")
	return &iam.CreateRoleOutput{}, nil
}

func (f *fakeIAM) DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	f.calls = append(f.calls, "DeleteRole")
	return &iam.DeleteRoleOutput{}, nil
}

func (f *fakeIAM) AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.calls = append(f.calls, "AttachRolePolicy")
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.calls = append(f.calls, "DetachRolePolicy")
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	f.calls = append(f.calls, "ListAttachedRolePolicies")
	out := &iam.ListAttachedRolePoliciesOutput{}
	for _, arn := range f.attached {
		out.AttachedPolicies = append(out.AttachedPolicies, iamtypes.AttachedPolicy{PolicyArn: aws.String(arn)})
	}
	return out, nil
}

func (f *fakeIAM) CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	f.calls = append(f.calls, "CreateInstanceProfile")
	return &iam.CreateInstanceProfileOutput{}, nil
}

func (f *fakeIAM) DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	f.calls = append(f.calls, "DeleteInstanceProfile")
	return &iam.DeleteInstanceProfileOutput{}, nil
}

func (f *fakeIAM) AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	f.calls = append(f.calls, "AddRoleToInstanceProfile")
	return &iam.AddRoleToInstanceProfileOutput{}, nil
}

func (f *fakeIAM) RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	f.calls = append(f.calls, "RemoveRoleFromInstanceProfile")
	return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
}

type fakeECR struct{}

func (fakeECR) CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	return &ecr.CreateRepositoryOutput{}, nil
}

func (fakeECR) DeleteRepository(ctx context.Context, params *ecr.DeleteRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error) {
	return &ecr.DeleteRepositoryOutput{}, nil
}

type fakeDynamo struct{}

func (fakeDynamo) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return &dynamodb.CreateTableOutput{}, nil
}

func (fakeDynamo) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	return &dynamodb.DeleteTableOutput{}, nil
}

// scriptedProber returns a fixed sequence of states for a resource, sticking
// on the last one.
type scriptedProber struct {
	states map[string][]resource.ObservedState
	seen   map[string]int
}

func newScriptedProber() *scriptedProber {
	return &scriptedProber{
		states: map[string][]resource.ObservedState{},
		seen:   map[string]int{},
	}
}

func (p *scriptedProber) script(name string, states ...resource.ObservedState) {
	p.states[name] = states
}

func (p *scriptedProber) Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	seq := p.states[d.Name]
	if len(seq) == 0 {
		return resource.NotFound(), nil
	}
	i := p.seen[d.Name]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	p.seen[d.Name]++
	return seq[i], nil
}

func ready(attrs map[string]string) resource.ObservedState {
	return resource.ObservedState{Exists: true, Phase: resource.PhaseReady, Attributes: attrs}
}

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "test"}
}

func newTestExecutor(ec2api EC2API, iamapi IAMAPI, prober *scriptedProber, led ledger.Ledger) *Executor {
	return New(Options{
		Region: "us-east-1",
		EC2:    ec2api,
		IAM:    iamapi,
		ECR:    fakeECR{},
		Dynamo: fakeDynamo{},
		Prober: prober,
		Ledger: led,
		Timing: Timing{
			PollInterval:     time.Millisecond,
			InstanceTimeout:  100 * time.Millisecond,
			IamPropagation:   100 * time.Millisecond,
			HelmTimeout:      100 * time.Millisecond,
			TransitionalWait: 100 * time.Millisecond,
			TeardownTimeout:  100 * time.Millisecond,
		},
		PublicKeyMaterial: "ssh-ed25519 AAAA test@host",
	})
}

func instanceDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Kind:  resource.KindInstance,
		Name:  "k8s-master",
		Needs: []string{"k8s-sg"},
		Spec: resource.InstanceSpec{
			AMI:             "ami-0abc",
			InstanceType:    "t3.medium",
			KeyPairName:     "k8s-keypair",
			SecurityGroup:   "k8s-sg",
			InstanceProfile: "k8s-node-profile",
			Role:            "master",
		},
	}
}

func TestCreateInstanceLaunchesAndWaitsForAddress(t *testing.T) {
	ec2api := &fakeEC2{}
	prober := newScriptedProber()
	led := ledger.NewMemoryLedger()
	require.NoError(t, led.Upsert("k8s-sg", map[string]string{resource.AttrID: "sg-0abc"}))

	d := instanceDescriptor()
	// Absent on the pre-create probe, then running without an address, then
	// addressed.
	prober.script(d.Name,
		resource.NotFound(),
		resource.ObservedState{Exists: true, Phase: resource.PhaseReady},
		ready(map[string]string{resource.AttrID: "i-1", resource.AttrPublicIP: "54.1.2.3"}),
	)

	attrs, err := newTestExecutor(ec2api, &fakeIAM{}, prober, led).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.NoError(t, err)
	assert.Equal(t, 1, ec2api.runCalls)
	assert.Equal(t, "54.1.2.3", attrs[resource.AttrPublicIP])
}

func TestCreateInstanceStartsStoppedMachine(t *testing.T) {
	ec2api := &fakeEC2{}
	prober := newScriptedProber()
	d := instanceDescriptor()
	prober.script(d.Name,
		resource.ObservedState{Exists: true, Phase: resource.PhaseStopped, Attributes: map[string]string{resource.AttrID: "i-1"}},
		ready(map[string]string{resource.AttrID: "i-1", resource.AttrPublicIP: "54.1.2.3"}),
	)

	_, err := newTestExecutor(ec2api, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.NoError(t, err)
	assert.Equal(t, 1, ec2api.startCalls, "a stopped instance is started")
	assert.Zero(t, ec2api.runCalls, "never launch a duplicate of an existing identity")
}

func TestCreateInstanceNeedsSecurityGroupID(t *testing.T) {
	d := instanceDescriptor()
	prober := newScriptedProber()
	prober.script(d.Name, resource.NotFound())

	// Empty ledger: the security group attribute from the earlier stage is
	// missing.
	_, err := newTestExecutor(&fakeEC2{}, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.Error(t, err)
	var pre *faults.PreconditionMissing
	assert.ErrorAs(t, err, &pre)
}

func TestCreateInstanceRejectionIsFatal(t *testing.T) {
	ec2api := &fakeEC2{runErr: apiErr("UnauthorizedOperation")}
	prober := newScriptedProber()
	d := instanceDescriptor()
	prober.script(d.Name, resource.NotFound())
	led := ledger.NewMemoryLedger()
	require.NoError(t, led.Upsert("k8s-sg", map[string]string{resource.AttrID: "sg-0abc"}))

	_, err := newTestExecutor(ec2api, &fakeIAM{}, prober, led).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.Error(t, err)
	assert.True(t, faults.IsFatal(err))
	var rejected *faults.ProviderRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "UnauthorizedOperation", rejected.Code)
}

func TestCreateSecurityGroupToleratesDuplicateRules(t *testing.T) {
	ec2api := &fakeEC2{authorizeErr: apiErr("InvalidPermission.Duplicate")}
	prober := newScriptedProber()
	d := resource.Descriptor{
		Kind: resource.KindSecurityGroup,
		Name: "k8s-sg",
		Spec: resource.SecurityGroupSpec{
			Description: "cluster",
			Ingress:     []resource.IngressRule{{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: "0.0.0.0/0"}},
		},
	}
	prober.script(d.Name,
		resource.NotFound(),
		ready(map[string]string{resource.AttrID: "sg-0abc"}),
	)

	attrs, err := newTestExecutor(ec2api, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.NoError(t, err)
	assert.Equal(t, "sg-0abc", attrs[resource.AttrID])
}

func TestDeleteRoleDetachesPoliciesFirst(t *testing.T) {
	iamapi := &fakeIAM{attached: []string{
		"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
	}}
	d := resource.Descriptor{Kind: resource.KindIamRole, Name: "k8s-node-role"}

	err := newTestExecutor(&fakeEC2{}, iamapi, newScriptedProber(), ledger.NewMemoryLedger()).
		Delete(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ListAttachedRolePolicies", "DetachRolePolicy", "DeleteRole"}, iamapi.calls)
}

func TestDeleteInstanceAlreadyGone(t *testing.T) {
	ec2api := &fakeEC2{}
	prober := newScriptedProber() // probe returns absent by default
	d := instanceDescriptor()

	err := newTestExecutor(ec2api, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Delete(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Zero(t, ec2api.terminateCalls, "nothing to terminate for an absent instance")
}

func TestRecreateTerminatesThenLaunches(t *testing.T) {
	ec2api := &fakeEC2{}
	prober := newScriptedProber()
	led := ledger.NewMemoryLedger()
	require.NoError(t, led.Upsert("k8s-sg", map[string]string{resource.AttrID: "sg-0abc"}))

	d := instanceDescriptor()
	// Gone immediately after termination, then absent for the pre-create
	// probe, then the replacement comes up addressed.
	prober.script(d.Name,
		resource.NotFound(),
		resource.NotFound(),
		ready(map[string]string{resource.AttrID: "i-2", resource.AttrPublicIP: "54.9.9.9"}),
	)

	observed := ready(map[string]string{resource.AttrID: "i-1", resource.AttrPublicIP: "54.1.1.1"})
	attrs, err := newTestExecutor(ec2api, &fakeIAM{}, prober, led).
		Execute(context.Background(), d, resource.DecisionRecreate, observed)
	require.NoError(t, err)
	assert.Equal(t, 1, ec2api.terminateCalls)
	assert.Equal(t, 1, ec2api.runCalls)
	assert.Equal(t, "i-2", attrs[resource.AttrID])
}

func TestCreateSecurityGroupAuthorizesRulesIndividually(t *testing.T) {
	// The SSH rule already exists from a prior run; the new API rule must
	// still be authorized instead of dying with the whole batch.
	ec2api := &fakeEC2{existingRules: map[string]bool{"0.0.0.0/0": true}}
	prober := newScriptedProber()
	d := resource.Descriptor{
		Kind: resource.KindSecurityGroup,
		Name: "k8s-sg",
		Spec: resource.SecurityGroupSpec{
			Description: "cluster",
			Ingress: []resource.IngressRule{
				{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: "0.0.0.0/0"},
				{Protocol: "tcp", FromPort: 6443, ToPort: 6443, CIDR: "10.0.0.0/8"},
			},
		},
	}
	prober.script(d.Name, ready(map[string]string{resource.AttrID: "sg-0abc"}))

	_, err := newTestExecutor(ec2api, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.NoError(t, err)

	require.Len(t, ec2api.authorizeCalls, 2, "one authorize call per rule")
	for _, call := range ec2api.authorizeCalls {
		assert.Len(t, call, 1)
	}
	assert.Equal(t, "10.0.0.0/8", aws.ToString(ec2api.authorizeCalls[1][0].IpRanges[0].CidrIp))
}

func TestWaitDecisionSettlesWithinTransitionalWindow(t *testing.T) {
	prober := newScriptedProber()
	d := instanceDescriptor()
	prober.script(d.Name,
		resource.ObservedState{Exists: true, Phase: resource.PhasePending},
		ready(map[string]string{resource.AttrID: "i-1"}),
	)

	attrs, err := newTestExecutor(&fakeEC2{}, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionWait,
			resource.ObservedState{Exists: true, Phase: resource.PhasePending})
	require.NoError(t, err)
	assert.Equal(t, "i-1", attrs[resource.AttrID])
}

func TestWaitDecisionBoundedByTransitionalWait(t *testing.T) {
	prober := newScriptedProber()
	d := instanceDescriptor()
	// Never leaves the transitional phase.
	prober.script(d.Name, resource.ObservedState{Exists: true, Phase: resource.PhasePending})

	_, err := newTestExecutor(&fakeEC2{}, &fakeIAM{}, prober, ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionWait,
			resource.ObservedState{Exists: true, Phase: resource.PhasePending})
	require.Error(t, err)
	assert.True(t, faults.IsTimeout(err))
}

// fakeHelm records install invocations.
type fakeHelm struct {
	installs []helmexec.InstallOptions
}

func (f *fakeHelm) UpgradeInstall(ctx context.Context, opts helmexec.InstallOptions) error {
	f.installs = append(f.installs, opts)
	return nil
}

func (f *fakeHelm) Uninstall(ctx context.Context, release, namespace string) error { return nil }

func TestInstallReleaseRendersConfiguredReplicas(t *testing.T) {
	helm := &fakeHelm{}
	prober := newScriptedProber()
	led := ledger.NewMemoryLedger()
	require.NoError(t, led.Upsert("retail-registry", map[string]string{
		resource.AttrRepositoryURI: "123456789012.dkr.ecr.us-east-1.amazonaws.com/retail-registry",
	}))

	d := resource.Descriptor{
		Kind: resource.KindHelmRelease,
		Name: "ui",
		Spec: resource.HelmReleaseSpec{Chart: "charts/ui", Namespace: "retail", Replicas: 3},
	}
	prober.script(d.Name, ready(map[string]string{resource.AttrRevision: "1"}))

	exec := New(Options{
		Prober:       prober,
		Ledger:       led,
		Kube:         &kube.Client{},
		Helm:         helm,
		RegistryName: "retail-registry",
		PullSecret:   "regcred",
		ImageTag:     "abc123",
		ValuesDir:    t.TempDir(),
		Timing:       Timing{PollInterval: time.Millisecond, HelmTimeout: 100 * time.Millisecond},
	})

	_, err := exec.Execute(context.Background(), d, resource.DecisionCreate, resource.NotFound())
	require.NoError(t, err)

	require.Len(t, helm.installs, 1)
	require.Len(t, helm.installs[0].ValuesFiles, 1)

	data, err := os.ReadFile(helm.installs[0].ValuesFiles[0])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc["replicaCount"], "configured replicas reach the rendered values")
}

func TestClusterActionsRequireKubeconfig(t *testing.T) {
	d := resource.Descriptor{
		Kind: resource.KindK8sSecret,
		Name: "regcred",
		Spec: resource.K8sSecretSpec{Namespace: "default", TTL: 12 * time.Hour},
	}

	_, err := newTestExecutor(&fakeEC2{}, &fakeIAM{}, newScriptedProber(), ledger.NewMemoryLedger()).
		Execute(context.Background(), d, resource.DecisionRefresh, resource.NotFound())
	require.Error(t, err)
	var pre *faults.PreconditionMissing
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, err.Error(), "kubeforge kubeconfig")
}
