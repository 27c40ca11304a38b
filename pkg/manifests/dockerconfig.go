package manifests

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// dockerConfig is the .dockerconfigjson document stored in a registry
// credential secret.
type dockerConfig struct {
	Auths map[string]dockerAuth `json:"auths"`
}

type dockerAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

// DockerConfigJSON builds the .dockerconfigjson payload for a registry
// credential. The username for ECR tokens is always "AWS".
func DockerConfigJSON(registryURL, username, password string) ([]byte, error) {
	if registryURL == "" {
		return nil, fmt.Errorf("registry URL is required")
	}
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	cfg := dockerConfig{
		Auths: map[string]dockerAuth{
			registryURL: {
				Username: username,
				Password: password,
				Auth:     auth,
			},
		},
	}
	out, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal docker config: %w", err)
	}
	return out, nil
}
