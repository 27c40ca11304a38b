package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// AWSProber probes EC2, IAM, ECR and DynamoDB resources by their
// deterministic names.
type AWSProber struct {
	clients *awsclient.Clients
}

// NewAWSProber creates a prober over the shared client bundle.
func NewAWSProber(clients *awsclient.Clients) *AWSProber {
	return &AWSProber{clients: clients}
}

// Kinds lists the kinds this prober serves.
func (p *AWSProber) Kinds() []resource.Kind {
	return []resource.Kind{
		resource.KindInstance, resource.KindSecurityGroup, resource.KindIamRole,
		resource.KindInstanceProfile, resource.KindKeyPair,
		resource.KindEcrRepository, resource.KindDynamoTable,
	}
}

// Probe implements Prober.
func (p *AWSProber) Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	return withRetries(ctx, d.ID(), awsclient.IsThrottle, func() (resource.ObservedState, error) {
		switch d.Kind {
		case resource.KindInstance:
			return p.probeInstance(ctx, d.Name)
		case resource.KindSecurityGroup:
			return p.probeSecurityGroup(ctx, d.Name)
		case resource.KindIamRole:
			return p.probeRole(ctx, d.Name)
		case resource.KindInstanceProfile:
			return p.probeInstanceProfile(ctx, d)
		case resource.KindKeyPair:
			return p.probeKeyPair(ctx, d.Name)
		case resource.KindEcrRepository:
			return p.probeRepository(ctx, d.Name)
		case resource.KindDynamoTable:
			return p.probeTable(ctx, d.Name)
		default:
			return resource.ObservedState{}, fmt.Errorf("kind %s not handled by AWS prober", d.Kind)
		}
	})
}

func (p *AWSProber) probeInstance(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{name}},
		},
	})
	if err != nil {
		return resource.ObservedState{}, err
	}

	// Terminated instances keep their tags around for a while; only a
	// live instance counts as existing.
	var live *ec2types.Instance
	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			inst := &reservation.Instances[i]
			if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
				continue
			}
			live = inst
		}
	}
	if live == nil {
		return observed(resource.NotFound()), nil
	}

	state := resource.ObservedState{
		Exists: true,
		Phase:  instancePhase(live.State.Name),
		Attributes: map[string]string{
			resource.AttrID:        aws.ToString(live.InstanceId),
			resource.AttrPublicIP:  aws.ToString(live.PublicIpAddress),
			resource.AttrPrivateIP: aws.ToString(live.PrivateIpAddress),
			"instance_type":        string(live.InstanceType),
			"ami":                  aws.ToString(live.ImageId),
		},
	}
	if live.LaunchTime != nil {
		state.Attributes[resource.AttrCreatedAt] = live.LaunchTime.UTC().Format(time.RFC3339)
	}
	return observed(state), nil
}

func instancePhase(state ec2types.InstanceStateName) resource.Phase {
	switch state {
	case ec2types.InstanceStateNamePending:
		return resource.PhasePending
	case ec2types.InstanceStateNameRunning:
		return resource.PhaseReady
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return resource.PhaseStopping
	case ec2types.InstanceStateNameStopped:
		return resource.PhaseStopped
	case ec2types.InstanceStateNameTerminated:
		return resource.PhaseTerminated
	}
	return resource.PhaseUnknown
}

func (p *AWSProber) probeSecurityGroup(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}
	if len(out.SecurityGroups) == 0 {
		return observed(resource.NotFound()), nil
	}
	group := out.SecurityGroups[0]
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseReady,
		Attributes: map[string]string{
			resource.AttrID: aws.ToString(group.GroupId),
			"vpc_id":        aws.ToString(group.VpcId),
		},
	}), nil
}

func (p *AWSProber) probeRole(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}
	state := resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseReady,
		Attributes: map[string]string{
			resource.AttrArn: aws.ToString(out.Role.Arn),
		},
	}
	if out.Role.CreateDate != nil {
		state.Attributes[resource.AttrCreatedAt] = out.Role.CreateDate.UTC().Format(time.RFC3339)
	}
	return observed(state), nil
}

// probeInstanceProfile verifies the full composite condition: the profile
// must exist AND carry the expected role attachment. A profile without its
// role is reported degraded, never ready - instances launched against it
// would come up without credentials.
func (p *AWSProber) probeInstanceProfile(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	spec, ok := d.Spec.(resource.InstanceProfileSpec)
	if !ok {
		return resource.ObservedState{}, fmt.Errorf("descriptor %s has no instance profile spec", d.ID())
	}

	out, err := p.clients.IAM.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(d.Name),
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}

	attached := false
	for _, role := range out.InstanceProfile.Roles {
		if aws.ToString(role.RoleName) == spec.RoleName {
			attached = true
			break
		}
	}

	phase := resource.PhaseReady
	if !attached {
		phase = resource.PhaseDegraded
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  phase,
		Attributes: map[string]string{
			resource.AttrArn:          aws.ToString(out.InstanceProfile.Arn),
			resource.AttrRoleAttached: fmt.Sprintf("%t", attached),
		},
	}), nil
}

func (p *AWSProber) probeKeyPair(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.EC2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{name},
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}
	if len(out.KeyPairs) == 0 {
		return observed(resource.NotFound()), nil
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseReady,
		Attributes: map[string]string{
			resource.AttrID: aws.ToString(out.KeyPairs[0].KeyPairId),
			"fingerprint":   aws.ToString(out.KeyPairs[0].KeyFingerprint),
		},
	}), nil
}

func (p *AWSProber) probeRepository(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}
	if len(out.Repositories) == 0 {
		return observed(resource.NotFound()), nil
	}
	repo := out.Repositories[0]
	state := resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseReady,
		Attributes: map[string]string{
			resource.AttrArn:           aws.ToString(repo.RepositoryArn),
			resource.AttrRepositoryURI: aws.ToString(repo.RepositoryUri),
		},
	}
	if repo.CreatedAt != nil {
		state.Attributes[resource.AttrCreatedAt] = repo.CreatedAt.UTC().Format(time.RFC3339)
	}
	return observed(state), nil
}

func (p *AWSProber) probeTable(ctx context.Context, name string) (resource.ObservedState, error) {
	out, err := p.clients.Dynamo.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return observed(resource.NotFound()), nil
		}
		return resource.ObservedState{}, err
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  tablePhase(out.Table.TableStatus),
		Attributes: map[string]string{
			resource.AttrArn: aws.ToString(out.Table.TableArn),
		},
	}), nil
}

func tablePhase(status dynamotypes.TableStatus) resource.Phase {
	switch status {
	case dynamotypes.TableStatusCreating, dynamotypes.TableStatusUpdating:
		return resource.PhasePending
	case dynamotypes.TableStatusActive:
		return resource.PhaseReady
	case dynamotypes.TableStatusDeleting:
		return resource.PhaseStopping
	}
	return resource.PhaseUnknown
}

func observed(state resource.ObservedState) resource.ObservedState {
	state.ObservedAt = time.Now().UTC()
	return state
}
