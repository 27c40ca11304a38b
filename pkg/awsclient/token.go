package awsclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// RegistryToken is a decoded ECR authorization token. The token expires
// after a provider-imposed validity window (observed: 12 hours), which is
// why the registry credential secret is a Refresh-bearing resource.
type RegistryToken struct {
	Username  string
	Password  string
	Registry  string
	ExpiresAt time.Time
}

// GetRegistryToken fetches and decodes an ECR authorization token.
func (c *Clients) GetRegistryToken(ctx context.Context) (*RegistryToken, error) {
	out, err := c.ECR.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get registry authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, fmt.Errorf("registry returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("authorization token is not user:password formatted")
	}

	registry := strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://")
	token := &RegistryToken{
		Username: username,
		Password: password,
		Registry: registry,
	}
	if data.ExpiresAt != nil {
		token.ExpiresAt = *data.ExpiresAt
	}
	return token, nil
}
