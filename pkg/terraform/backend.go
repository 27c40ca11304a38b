// Package terraform is the alternate actuation backend for the container
// registry: instead of typed SDK calls, the repository is expressed as a
// generated terraform configuration and converged with terraform apply.
// The configuration is emitted as .tf.json from typed structs, never from
// string templates.
package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RepositoryConfig describes the ECR repository expressed in terraform.
type RepositoryConfig struct {
	Name        string
	Region      string
	ScanOnPush  bool
	ForceDelete bool
}

// tfDocument is the root of a .tf.json document.
type tfDocument struct {
	Terraform tfSettings          `json:"terraform"`
	Provider  map[string]tfAWS    `json:"provider"`
	Resource  map[string]any      `json:"resource"`
	Output    map[string]tfOutput `json:"output,omitempty"`
}

type tfSettings struct {
	RequiredProviders map[string]tfProviderReq `json:"required_providers"`
}

type tfProviderReq struct {
	Source  string `json:"source"`
	Version string `json:"version,omitempty"`
}

type tfAWS struct {
	Region string `json:"region"`
}

type tfEcrRepository struct {
	Name                       string            `json:"name"`
	ForceDelete                bool              `json:"force_delete"`
	ImageScanningConfiguration []tfImageScanning `json:"image_scanning_configuration"`
}

type tfImageScanning struct {
	ScanOnPush bool `json:"scan_on_push"`
}

type tfOutput struct {
	Value string `json:"value"`
}

// Backend renders and applies the terraform workspace for one repository.
type Backend struct {
	// WorkDir is the directory holding the generated configuration and the
	// terraform state file.
	WorkDir string
	// Binary overrides the terraform binary path; defaults to "terraform".
	Binary string
}

// NewBackend creates a Backend rooted at workDir.
func NewBackend(workDir string) *Backend {
	return &Backend{WorkDir: workDir, Binary: "terraform"}
}

// Render writes the .tf.json document for the repository.
func (b *Backend) Render(cfg RepositoryConfig) error {
	doc := tfDocument{
		Terraform: tfSettings{
			RequiredProviders: map[string]tfProviderReq{
				"aws": {Source: "hashicorp/aws", Version: ">= 5.0"},
			},
		},
		Provider: map[string]tfAWS{"aws": {Region: cfg.Region}},
		Resource: map[string]any{
			"aws_ecr_repository": map[string]tfEcrRepository{
				"registry": {
					Name:        cfg.Name,
					ForceDelete: cfg.ForceDelete,
					ImageScanningConfiguration: []tfImageScanning{
						{ScanOnPush: cfg.ScanOnPush},
					},
				},
			},
		},
		Output: map[string]tfOutput{
			"repository_url": {Value: "${aws_ecr_repository.registry.repository_url}"},
		},
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal terraform configuration: %w", err)
	}
	if err := os.MkdirAll(b.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create terraform workdir: %w", err)
	}
	path := filepath.Join(b.WorkDir, "registry.tf.json")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write terraform configuration: %w", err)
	}
	return nil
}

// Apply converges the workspace and returns the repository URL output.
func (b *Backend) Apply(ctx context.Context, cfg RepositoryConfig) (string, error) {
	if err := b.Render(cfg); err != nil {
		return "", err
	}
	if err := b.run(ctx, "init", "-input=false", "-no-color"); err != nil {
		return "", err
	}
	if err := b.run(ctx, "apply", "-input=false", "-auto-approve", "-no-color"); err != nil {
		return "", err
	}
	return b.output(ctx, "repository_url")
}

// Destroy tears the workspace down. A missing workspace is tolerated: the
// repository was never created through this backend.
func (b *Backend) Destroy(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(b.WorkDir, "registry.tf.json")); os.IsNotExist(err) {
		return nil
	}
	return b.run(ctx, "destroy", "-input=false", "-auto-approve", "-no-color")
}

func (b *Backend) run(ctx context.Context, args ...string) error {
	binary := b.Binary
	if binary == "" {
		binary = "terraform"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = b.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("terraform %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (b *Backend) output(ctx context.Context, name string) (string, error) {
	binary := b.Binary
	if binary == "" {
		binary = "terraform"
	}
	cmd := exec.CommandContext(ctx, binary, "output", "-raw", name)
	cmd.Dir = b.WorkDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("terraform output %s failed: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}
