package executor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/terraform"
)

func (e *Executor) createRepository(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.EcrRepositorySpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no repository spec", d.ID())
	}

	if e.opts.Terraform != nil {
		// Alternate backend: the repository is expressed as generated
		// terraform and converged by apply, which is a no-op when it already
		// matches. Discovery still goes through the prober so the ledger
		// record looks the same either way.
		_, err := e.opts.Terraform.Apply(ctx, terraform.RepositoryConfig{
			Name:        d.Name,
			Region:      e.opts.Region,
			ScanOnPush:  spec.ScanOnPush,
			ForceDelete: spec.ForceDelete,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to converge repository %s via terraform: %w", d.Name, err)
		}
		return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
	}

	if !fresh.Exists {
		mutability := ecrtypes.ImageTagMutabilityMutable
		if spec.ImmutableTags {
			mutability = ecrtypes.ImageTagMutabilityImmutable
		}
		_, err := e.opts.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{
			RepositoryName:     aws.String(d.Name),
			ImageTagMutability: mutability,
			ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
				ScanOnPush: spec.ScanOnPush,
			},
			Tags: []ecrtypes.Tag{
				{Key: aws.String("kubeforge:managed"), Value: aws.String("true")},
			},
		})
		if err != nil && awsclient.ErrorCode(err) != "RepositoryAlreadyExistsException" {
			return nil, providerErr(d, "create repository", err)
		}
	}

	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}

func (e *Executor) createTable(ctx context.Context, d resource.Descriptor, fresh resource.ObservedState) (map[string]string, error) {
	spec, ok := d.Spec.(resource.DynamoTableSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no table spec", d.ID())
	}

	if !fresh.Exists {
		_, err := e.opts.Dynamo.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:   aws.String(d.Name),
			BillingMode: dynamotypes.BillingMode(spec.BillingMode),
			AttributeDefinitions: []dynamotypes.AttributeDefinition{{
				AttributeName: aws.String(spec.HashKey),
				AttributeType: dynamotypes.ScalarAttributeTypeS,
			}},
			KeySchema: []dynamotypes.KeySchemaElement{{
				AttributeName: aws.String(spec.HashKey),
				KeyType:       dynamotypes.KeyTypeHash,
			}},
		})
		if err != nil && awsclient.ErrorCode(err) != "ResourceInUseException" {
			return nil, providerErr(d, "create table", err)
		}
	}

	// Tables come up CREATING; the wait below holds the barrier until ACTIVE.
	return e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
}
