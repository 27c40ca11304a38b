package manifests

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HelmValues is the values overlay passed to a Helm release of one retail
// service. Image coordinates always point at the provisioned registry and the
// pull secret; per-service overrides merge on top.
type HelmValues struct {
	ReplicaCount     int            `yaml:"replicaCount"`
	Image            ImageValues    `yaml:"image"`
	ImagePullSecrets []NamedRef     `yaml:"imagePullSecrets,omitempty"`
	Extra            map[string]any `yaml:",inline"`
}

// ImageValues is the image block of the overlay.
type ImageValues struct {
	Repository string `yaml:"repository"`
	Tag        string `yaml:"tag"`
	PullPolicy string `yaml:"pullPolicy"`
}

// NamedRef is a name-only object reference.
type NamedRef struct {
	Name string `yaml:"name"`
}

// HelmValuesInput carries the fields needed to build a values overlay.
type HelmValuesInput struct {
	Service        string
	RepositoryURI  string
	Tag            string
	Replicas       int
	PullSecretName string
	Overrides      map[string]any
}

// NewHelmValues builds the overlay for one service.
func NewHelmValues(in HelmValuesInput) *HelmValues {
	replicas := in.Replicas
	if replicas == 0 {
		replicas = 1
	}
	tag := in.Tag
	if tag == "" {
		tag = "latest"
	}
	v := &HelmValues{
		ReplicaCount: replicas,
		Image: ImageValues{
			Repository: in.RepositoryURI,
			Tag:        tag,
			PullPolicy: "IfNotPresent",
		},
		Extra: in.Overrides,
	}
	if in.PullSecretName != "" {
		v.ImagePullSecrets = []NamedRef{{Name: in.PullSecretName}}
	}
	return v
}

// WriteFile renders the overlay to a values file and returns its path.
func (v *HelmValues) WriteFile(dir, service string) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal values for %s: %w", service, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create values directory: %w", err)
	}
	path := filepath.Join(dir, service+"-values.yaml")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("failed to write values for %s: %w", service, err)
	}
	return path, nil
}
