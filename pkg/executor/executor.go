// Package executor performs the side-effecting provider calls for
// reconciliation decisions and waits for every creating action to reach a
// stable terminal phase before reporting success. Propagation delays are
// bounded verify-loops, never fixed sleeps.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/helmexec"
	"github.com/chalkan3/kubeforge/pkg/kube"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/probe"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/retry"
	"github.com/chalkan3/kubeforge/pkg/terraform"
)

// EC2API is the slice of the EC2 client the executor uses.
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
}

// IAMAPI is the slice of the IAM client the executor uses.
type IAMAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)
}

// ECRAPI is the slice of the ECR client the executor uses.
type ECRAPI interface {
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DeleteRepository(ctx context.Context, params *ecr.DeleteRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error)
}

// DynamoAPI is the slice of the DynamoDB client the executor uses.
type DynamoAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// TokenSource fetches registry credentials.
type TokenSource interface {
	GetRegistryToken(ctx context.Context) (*awsclient.RegistryToken, error)
}

// Timing bounds every wait-with-verify loop.
type Timing struct {
	PollInterval    time.Duration
	InstanceTimeout time.Duration
	IamPropagation  time.Duration
	HelmTimeout     time.Duration
	// TransitionalWait bounds how long a Wait decision rides out a
	// transitional phase before giving up on the resource settling on its own.
	TransitionalWait time.Duration
	TeardownTimeout  time.Duration
}

// Options wires an Executor.
type Options struct {
	// Region is the AWS region resources are converged in.
	Region string

	EC2    EC2API
	IAM    IAMAPI
	ECR    ECRAPI
	Dynamo DynamoAPI
	Tokens TokenSource
	Prober probe.Prober
	Ledger ledger.Ledger
	Timing Timing

	// Kube and Helm are nil until a kubeconfig is available; cluster-layer
	// actions then fail with a precondition error instructing the operator
	// to fetch the kubeconfig and rerun.
	Kube *kube.Client
	Helm helmexec.Runner

	// Terraform is the alternate backend for the registry repository; nil
	// selects the SDK path.
	Terraform *terraform.Backend

	// PublicKeyMaterial is the SSH public key imported as the key pair.
	PublicKeyMaterial string
	// RegistryName is the ledger entry holding the repository URI that image
	// coordinates in Helm values point at.
	RegistryName string
	// PullSecret is the registry credential secret name referenced from
	// Helm values.
	PullSecret string
	// ImageTag is the tag deployed for application releases.
	ImageTag string
	// ValuesDir is where rendered Helm values files land.
	ValuesDir string
	// Kubeconfig is passed to helm invocations.
	Kubeconfig string
}

// Executor implements reconcile.Executor and the teardown deleter.
type Executor struct {
	opts Options
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Timing.PollInterval == 0 {
		opts.Timing.PollInterval = 5 * time.Second
	}
	if opts.Timing.TransitionalWait == 0 {
		opts.Timing.TransitionalWait = 3 * time.Minute
	}
	return &Executor{opts: opts}
}

// Execute performs the call for a decision and awaits a terminal phase. The
// returned attributes are the post-wait probe results destined for the
// ledger.
func (e *Executor) Execute(ctx context.Context, d resource.Descriptor, decision resource.Decision, observed resource.ObservedState) (map[string]string, error) {
	switch decision {
	case resource.DecisionCreate:
		return e.create(ctx, d, observed)
	case resource.DecisionRefresh:
		return e.refresh(ctx, d)
	case resource.DecisionRecreate:
		if err := e.Delete(ctx, d, observed.Attributes); err != nil {
			return nil, err
		}
		if err := e.awaitGone(ctx, d); err != nil {
			return nil, err
		}
		return e.create(ctx, d, resource.NotFound())
	case resource.DecisionDelete:
		return nil, e.Delete(ctx, d, observed.Attributes)
	case resource.DecisionWait:
		return e.awaitReady(ctx, d, e.opts.Timing.TransitionalWait)
	}
	return observed.Attributes, nil
}

func (e *Executor) create(ctx context.Context, d resource.Descriptor, observed resource.ObservedState) (map[string]string, error) {
	// The provider offers no create-if-absent for most of these kinds, so
	// re-probe immediately before acting to close the check-then-act window
	// as tightly as possible.
	fresh, err := e.opts.Prober.Probe(ctx, d)
	if err != nil {
		return nil, err
	}

	switch d.Kind {
	case resource.KindInstance:
		return e.createInstance(ctx, d, fresh)
	case resource.KindSecurityGroup:
		return e.createSecurityGroup(ctx, d, fresh)
	case resource.KindIamRole:
		return e.createRole(ctx, d, fresh)
	case resource.KindInstanceProfile:
		return e.createInstanceProfile(ctx, d, fresh)
	case resource.KindKeyPair:
		return e.createKeyPair(ctx, d, fresh)
	case resource.KindEcrRepository:
		return e.createRepository(ctx, d, fresh)
	case resource.KindDynamoTable:
		return e.createTable(ctx, d, fresh)
	case resource.KindK8sSecret:
		return e.refresh(ctx, d)
	case resource.KindHelmRelease:
		return e.installRelease(ctx, d)
	case resource.KindArgoApplication:
		return e.applyArgoApp(ctx, d)
	}
	return nil, fmt.Errorf("kind %s not handled by executor", d.Kind)
}

func (e *Executor) timeoutFor(kind resource.Kind) time.Duration {
	switch kind {
	case resource.KindInstance:
		return e.opts.Timing.InstanceTimeout
	case resource.KindInstanceProfile, resource.KindIamRole:
		return e.opts.Timing.IamPropagation
	case resource.KindHelmRelease:
		return e.opts.Timing.HelmTimeout
	}
	return 2 * time.Minute
}

// awaitReady polls the prober until the resource reports a terminal-healthy
// phase, within the bound for its kind.
func (e *Executor) awaitReady(ctx context.Context, d resource.Descriptor, timeout time.Duration) (map[string]string, error) {
	var last resource.ObservedState
	err := retry.Poll(ctx, retry.PollOptions{Interval: e.opts.Timing.PollInterval, Timeout: timeout},
		func(ctx context.Context) (bool, error) {
			state, err := e.opts.Prober.Probe(ctx, d)
			if err != nil {
				return false, err
			}
			last = state
			return state.Exists && state.Phase == resource.PhaseReady, nil
		})
	if err != nil {
		if err == retry.ErrPollTimeout {
			return nil, &faults.PropagationTimeout{
				Resource:  d.ID(),
				Condition: "terminal-healthy phase",
				Waited:    timeout,
			}
		}
		return nil, err
	}
	return last.Attributes, nil
}

// awaitGone polls until the prober reports the resource absent.
func (e *Executor) awaitGone(ctx context.Context, d resource.Descriptor) error {
	timeout := e.opts.Timing.TeardownTimeout
	err := retry.Poll(ctx, retry.PollOptions{Interval: e.opts.Timing.PollInterval, Timeout: timeout},
		func(ctx context.Context) (bool, error) {
			state, err := e.opts.Prober.Probe(ctx, d)
			if err != nil {
				return false, err
			}
			return !state.Exists, nil
		})
	if err == retry.ErrPollTimeout {
		return &faults.PropagationTimeout{Resource: d.ID(), Condition: "deletion confirmed", Waited: timeout}
	}
	return err
}

// providerErr maps a raw AWS error onto the taxonomy: outright rejections
// become fatal ProviderRejected, everything else passes through wrapped.
func providerErr(d resource.Descriptor, action string, err error) error {
	if err == nil {
		return nil
	}
	if awsclient.IsRejected(err) {
		return &faults.ProviderRejected{Resource: d.ID(), Code: awsclient.ErrorCode(err), Err: err}
	}
	return fmt.Errorf("failed to %s %s: %w", action, d.ID(), err)
}

// requireCluster guards cluster-layer actions behind kubeconfig presence.
func (e *Executor) requireCluster(d resource.Descriptor) error {
	if e.opts.Kube == nil {
		return &faults.PreconditionMissing{
			Resource: d.ID(),
			Missing:  "cluster kubeconfig (run 'kubeforge kubeconfig' once the master is up)",
			Stage:    0,
		}
	}
	return nil
}
