package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/faults"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/retry"
)

func (e *Executor) createInstance(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.InstanceSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no instance spec", d.ID())
	}

	if fresh.Exists {
		// An already-present instance reached here either stopped or
		// degraded. Starting the existing machine converges it; launching a
		// second one would duplicate the deterministic identity.
		if fresh.Phase == resource.PhaseStopped {
			_, err := e.opts.EC2.StartInstances(ctx, &ec2.StartInstancesInput{
				InstanceIds: []string{fresh.Attr(resource.AttrID)},
			})
			if err != nil {
				return nil, providerErr(d, "start instance", err)
			}
		}
		return e.awaitInstanceRunning(ctx, d)
	}

	sgID, err := e.dependencyAttr(spec.SecurityGroup, resource.AttrID)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.AMI),
		InstanceType:     ec2types.InstanceType(spec.InstanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(spec.KeyPairName),
		SecurityGroupIds: []string{sgID},
		IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(spec.InstanceProfile),
		},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(d.Name)},
				{Key: aws.String("kubeforge:role"), Value: aws.String(spec.Role)},
				{Key: aws.String("kubeforge:managed"), Value: aws.String("true")},
			},
		}},
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}
	if spec.VolumeSizeGiB > 0 {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          aws.Int32(spec.VolumeSizeGiB),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}

	if _, err := e.opts.EC2.RunInstances(ctx, input); err != nil {
		return nil, providerErr(d, "launch instance", err)
	}
	return e.awaitInstanceRunning(ctx, d)
}

// awaitInstanceRunning waits for the instance to be running with a public IP
// assigned; the address is what downstream SSH/kubeconfig steps consume, so
// "running but unaddressed" is not done yet.
func (e *Executor) awaitInstanceRunning(ctx context.Context, d resource.Descriptor) (map[string]string, error) {
	timeout := e.opts.Timing.InstanceTimeout
	var last resource.ObservedState
	err := retry.Poll(ctx, retry.PollOptions{Interval: e.opts.Timing.PollInterval, Timeout: timeout},
		func(ctx context.Context) (bool, error) {
			state, err := e.opts.Prober.Probe(ctx, d)
			if err != nil {
				return false, err
			}
			last = state
			return state.Exists &&
				state.Phase == resource.PhaseReady &&
				state.Attr(resource.AttrPublicIP) != "", nil
		})
	if err != nil {
		if err == retry.ErrPollTimeout {
			return nil, &faults.PropagationTimeout{
				Resource:  d.ID(),
				Condition: "instance running with public IP",
				Waited:    timeout,
			}
		}
		return nil, err
	}
	return last.Attributes, nil
}

func (e *Executor) createSecurityGroup(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.SecurityGroupSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no security group spec", d.ID())
	}

	groupID := fresh.Attr(resource.AttrID)
	if !fresh.Exists {
		input := &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(d.Name),
			Description: aws.String(spec.Description),
		}
		if spec.VpcID != "" {
			input.VpcId = aws.String(spec.VpcID)
		}
		out, err := e.opts.EC2.CreateSecurityGroup(ctx, input)
		if err != nil {
			return nil, providerErr(d, "create security group", err)
		}
		groupID = aws.ToString(out.GroupId)
	}

	// One rule per call: a batch containing any already-present rule is
	// rejected wholesale, which would silently drop the new rules on a rerun.
	for _, rule := range spec.Ingress {
		_, err := e.opts.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: aws.String(groupID),
			IpPermissions: []ec2types.IpPermission{{
				IpProtocol: aws.String(rule.Protocol),
				FromPort:   aws.Int32(rule.FromPort),
				ToPort:     aws.Int32(rule.ToPort),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(rule.CIDR)}},
			}},
		})
		if err != nil && awsclient.ErrorCode(err) != "InvalidPermission.Duplicate" {
			return nil, providerErr(d, "authorize ingress", err)
		}
	}

	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}

func (e *Executor) createKeyPair(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	if fresh.Exists {
		return fresh.Attributes, nil
	}
	spec, _ := d.Spec.(resource.KeyPairSpec)
	material := spec.PublicKeyMaterial
	if material == "" {
		material = e.opts.PublicKeyMaterial
	}
	if material == "" {
		return nil, &faults.PreconditionMissing{
			Resource: d.ID(),
			Missing:  "SSH public key material (cluster.ssh_public_key in the configuration)",
		}
	}
	_, err := e.opts.EC2.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(d.Name),
		PublicKeyMaterial: []byte(material),
	})
	if err != nil && awsclient.ErrorCode(err) != "InvalidKeyPair.Duplicate" {
		return nil, providerErr(d, "import key pair", err)
	}
	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}

// dependencyAttr resolves an attribute of an already-reconciled dependency
// from the ledger. The stage barrier guarantees the entry exists when the
// pass is healthy; a miss means an earlier stage did not complete.
func (e *Executor) dependencyAttr(name, attr string) (string, error) {
	attrs, err := e.opts.Ledger.Get(name)
	if err == nil {
		if v := attrs[attr]; v != "" {
			return v, nil
		}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return "", err
	}
	return "", &faults.PreconditionMissing{
		Resource: name,
		Missing:  fmt.Sprintf("ledger attribute %s", attr),
	}
}
