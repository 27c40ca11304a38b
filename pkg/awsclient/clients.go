// Package awsclient bundles the AWS service clients used by the prober and
// executor, and maps provider errors onto the reconciler's error taxonomy.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients is the shared bundle of AWS service clients. All clients are built
// from one credential/config load so region and credentials stay consistent
// across the pass.
type Clients struct {
	Region string
	EC2    *ec2.Client
	IAM    *iam.Client
	ECR    *ecr.Client
	Dynamo *dynamodb.Client
	STS    *sts.Client
}

// New loads the default AWS configuration for the region and builds the
// client bundle.
func New(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &Clients{
		Region: region,
		EC2:    ec2.NewFromConfig(cfg),
		IAM:    iam.NewFromConfig(cfg),
		ECR:    ecr.NewFromConfig(cfg),
		Dynamo: dynamodb.NewFromConfig(cfg),
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// AccountID resolves the caller's AWS account id via STS.
func (c *Clients) AccountID(ctx context.Context) (string, error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// RegistryHost returns the ECR registry hostname for the account and region.
func RegistryHost(accountID, region string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, region)
}
