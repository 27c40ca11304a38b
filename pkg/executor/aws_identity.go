package executor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

func (e *Executor) createRole(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.IamRoleSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no role spec", d.ID())
	}

	if !fresh.Exists {
		_, err := e.opts.IAM.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(d.Name),
			AssumeRolePolicyDocument: aws.String(spec.AssumeRolePolicy),
			Tags:                     iamTags(),
		})
		if err != nil && awsclient.ErrorCode(err) != "EntityAlreadyExists" {
			return nil, providerErr(d, "create role", err)
		}
	}

	// AttachRolePolicy is idempotent: attaching an already-attached managed
	// policy succeeds, so no pre-listing is needed on the forward path.
	for _, arn := range spec.PolicyArns {
		_, err := e.opts.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(d.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return nil, providerErr(d, "attach role policy", err)
		}
	}

	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}

// createInstanceProfile completes the composite profile+role-attachment
// resource: it creates whichever half is missing and then waits for IAM
// propagation before reporting the composite as done. An instance launched
// against a profile whose role has not propagated fails, so the wait is part
// of the create.
func (e *Executor) createInstanceProfile(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.InstanceProfileSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no instance profile spec", d.ID())
	}

	if !fresh.Exists {
		_, err := e.opts.IAM.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
			InstanceProfileName: aws.String(d.Name),
			Tags:                iamTags(),
		})
		if err != nil && awsclient.ErrorCode(err) != "EntityAlreadyExists" {
			return nil, providerErr(d, "create instance profile", err)
		}
	}

	if fresh.Attr(resource.AttrRoleAttached) != "true" {
		_, err := e.opts.IAM.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(d.Name),
			RoleName:            aws.String(spec.RoleName),
		})
		// LimitExceeded means the single role slot is already filled; the
		// probe below confirms whether it is filled with the right role.
		if err != nil && awsclient.ErrorCode(err) != "LimitExceeded" {
			return nil, providerErr(d, "add role to instance profile", err)
		}
	}

	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}

func iamTags() []iamtypes.Tag {
	return []iamtypes.Tag{
		{Key: aws.String("kubeforge:managed"), Value: aws.String("true")},
	}
}
