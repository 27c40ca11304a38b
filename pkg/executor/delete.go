package executor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// Delete issues the provider-side removal for one resource. Attributes come
// from the ledger or the last probe; when the provider id is missing the
// resource is re-probed first. Already-absent resources are tolerated
// everywhere: teardown must be re-runnable after partial failures.
func (e *Executor) Delete(ctx context.Context, d resource.Descriptor, attrs map[string]string) error {
	switch d.Kind {
	case resource.KindInstance:
		return e.deleteInstance(ctx, d, attrs)
	case resource.KindSecurityGroup:
		return e.deleteSecurityGroup(ctx, d, attrs)
	case resource.KindIamRole:
		return e.deleteRole(ctx, d)
	case resource.KindInstanceProfile:
		return e.deleteInstanceProfile(ctx, d)
	case resource.KindKeyPair:
		return e.deleteKeyPair(ctx, d)
	case resource.KindEcrRepository:
		return e.deleteRepository(ctx, d)
	case resource.KindDynamoTable:
		return e.deleteTable(ctx, d)
	case resource.KindK8sSecret:
		return e.deleteSecret(ctx, d)
	case resource.KindHelmRelease:
		return e.uninstallRelease(ctx, d)
	case resource.KindArgoApplication:
		return e.deleteArgoApp(ctx, d)
	}
	return fmt.Errorf("kind %s not handled by executor", d.Kind)
}

// resolveID returns the provider id from attrs, falling back to a fresh
// probe. An empty return means the resource is already gone.
func (e *Executor) resolveID(ctx context.Context, d resource.Descriptor, attrs map[string]string) (string, error) {
	if id := attrs[resource.AttrID]; id != "" {
		return id, nil
	}
	state, err := e.opts.Prober.Probe(ctx, d)
	if err != nil {
		return "", err
	}
	if !state.Exists {
		return "", nil
	}
	return state.Attr(resource.AttrID), nil
}

func (e *Executor) deleteInstance(ctx context.Context, d resource.Descriptor, attrs map[string]string) error {
	id, err := e.resolveID(ctx, d, attrs)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err = e.opts.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "terminate instance", err)
}

func (e *Executor) deleteSecurityGroup(ctx context.Context, d resource.Descriptor, attrs map[string]string) error {
	id, err := e.resolveID(ctx, d, attrs)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err = e.opts.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(id),
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete security group", err)
}

func (e *Executor) deleteRole(ctx context.Context, d resource.Descriptor) error {
	// A role with attached managed policies cannot be deleted; detach first.
	policies, err := e.opts.IAM.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(d.Name),
	})
	if err != nil {
		if awsclient.IsNotFound(err) {
			return nil
		}
		return providerErr(d, "list role policies", err)
	}
	for _, p := range policies.AttachedPolicies {
		_, err := e.opts.IAM.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(d.Name),
			PolicyArn: p.PolicyArn,
		})
		if err != nil && !awsclient.IsNotFound(err) {
			return providerErr(d, "detach role policy", err)
		}
	}
	_, err = e.opts.IAM.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(d.Name)})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete role", err)
}

func (e *Executor) deleteInstanceProfile(ctx context.Context, d resource.Descriptor) error {
	spec, _ := d.Spec.(resource.InstanceProfileSpec)
	if spec.RoleName != "" {
		_, err := e.opts.IAM.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(d.Name),
			RoleName:            aws.String(spec.RoleName),
		})
		if err != nil && !awsclient.IsNotFound(err) {
			return providerErr(d, "remove role from instance profile", err)
		}
	}
	_, err := e.opts.IAM.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: aws.String(d.Name),
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete instance profile", err)
}

func (e *Executor) deleteKeyPair(ctx context.Context, d resource.Descriptor) error {
	_, err := e.opts.EC2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(d.Name),
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete key pair", err)
}

func (e *Executor) deleteRepository(ctx context.Context, d resource.Descriptor) error {
	if e.opts.Terraform != nil {
		return e.opts.Terraform.Destroy(ctx)
	}
	_, err := e.opts.ECR.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(d.Name),
		Force:          true,
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete repository", err)
}

func (e *Executor) deleteTable(ctx context.Context, d resource.Descriptor) error {
	_, err := e.opts.Dynamo.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(d.Name),
	})
	if awsclient.IsNotFound(err) {
		return nil
	}
	return providerErr(d, "delete table", err)
}

// Cluster-layer deletions are best-effort when the cluster is unreachable:
// terminating the instances removes everything in them anyway.

func (e *Executor) deleteSecret(ctx context.Context, d resource.Descriptor) error {
	if e.opts.Kube == nil {
		return nil
	}
	spec, ok := d.Spec.(resource.K8sSecretSpec)
	if !ok {
		return fmt.Errorf("descriptor %s has no secret spec", d.ID())
	}
	return e.opts.Kube.DeleteSecret(ctx, spec.Namespace, d.Name)
}

func (e *Executor) uninstallRelease(ctx context.Context, d resource.Descriptor) error {
	if e.opts.Helm == nil || e.opts.Kube == nil {
		return nil
	}
	spec, ok := d.Spec.(resource.HelmReleaseSpec)
	if !ok {
		return fmt.Errorf("descriptor %s has no helm release spec", d.ID())
	}
	return e.opts.Helm.Uninstall(ctx, d.Name, spec.Namespace)
}

func (e *Executor) deleteArgoApp(ctx context.Context, d resource.Descriptor) error {
	if e.opts.Kube == nil {
		return nil
	}
	spec, ok := d.Spec.(resource.ArgoApplicationSpec)
	if !ok {
		return fmt.Errorf("descriptor %s has no application spec", d.ID())
	}
	return e.opts.Kube.DeleteArgoApp(ctx, spec.Namespace, d.Name)
}
