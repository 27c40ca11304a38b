// Package helmexec drives the helm binary for release install and removal.
// Install always runs with --wait so success means the release reached its
// terminal deployed state, not merely that the request was accepted.
package helmexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes helm commands. Extracted as an interface so the executor
// tests can fake releases without a cluster.
type Runner interface {
	UpgradeInstall(ctx context.Context, opts InstallOptions) error
	Uninstall(ctx context.Context, release, namespace string) error
}

// InstallOptions parameterize one helm upgrade --install invocation.
type InstallOptions struct {
	Release     string
	Chart       string
	Version     string
	Namespace   string
	ValuesFiles []string
	Timeout     time.Duration
	Kubeconfig  string
}

// CLI is the exec-based Runner.
type CLI struct {
	// Binary overrides the helm binary path; defaults to "helm" on PATH.
	Binary string
}

// NewCLI returns an exec-based helm runner.
func NewCLI() *CLI {
	return &CLI{Binary: "helm"}
}

// UpgradeInstall implements Runner.
func (c *CLI) UpgradeInstall(ctx context.Context, opts InstallOptions) error {
	args := []string{
		"upgrade", "--install", opts.Release, opts.Chart,
		"--namespace", opts.Namespace,
		"--create-namespace",
		"--wait",
	}
	if opts.Version != "" {
		args = append(args, "--version", opts.Version)
	}
	if opts.Timeout > 0 {
		args = append(args, "--timeout", opts.Timeout.String())
	}
	for _, f := range opts.ValuesFiles {
		args = append(args, "--values", f)
	}
	if opts.Kubeconfig != "" {
		args = append(args, "--kubeconfig", opts.Kubeconfig)
	}
	return c.run(ctx, args)
}

// Uninstall implements Runner. Absent releases are tolerated.
func (c *CLI) Uninstall(ctx context.Context, release, namespace string) error {
	err := c.run(ctx, []string{"uninstall", release, "--namespace", namespace})
	if err != nil && strings.Contains(err.Error(), "release: not found") {
		return nil
	}
	return err
}

func (c *CLI) run(ctx context.Context, args []string) error {
	binary := c.Binary
	if binary == "" {
		binary = "helm"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helm %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
