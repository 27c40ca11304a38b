package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

var kubeconfigCmd = &cobra.Command{
	Use:   "kubeconfig",
	Short: "Fetch the cluster kubeconfig from the master node",
	Long: `Copy /etc/kubernetes/admin.conf from the master node over SSH and rewrite
its server address to the master's public IP. Cluster-layer resources
(registry secret, Helm releases, GitOps application) need this file; run it
once the master is up, then rerun 'kubeforge up'.`,
	Example: `  kubeforge kubeconfig
  kubeforge up   # now converges the cluster-layer resources too`,
	RunE: runKubeconfig,
}

func init() {
	rootCmd.AddCommand(kubeconfigCmd)
}

func runKubeconfig(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	if rt.cfg.Cluster.PrivateKeyPath == "" {
		return fmt.Errorf("cluster.privateKeyPath is required to reach the master over SSH")
	}

	masterIP, err := masterPublicIP(ctx, rt)
	if err != nil {
		return err
	}

	s := newSpinner(fmt.Sprintf("Fetching kubeconfig from %s...", masterIP))
	s.Start()
	raw, err := sshCapture(ctx, rt.cfg.Cluster.PrivateKeyPath, masterIP,
		"sudo cat /etc/kubernetes/admin.conf")
	s.Stop()
	if err != nil {
		return err
	}

	// admin.conf points at the private address; external access goes through
	// the public one.
	rewritten := rewriteServerAddress(raw, masterIP)

	path := rt.cfg.Cluster.KubeconfigPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create kubeconfig directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(rewritten), 0o600); err != nil {
		return fmt.Errorf("failed to write kubeconfig: %w", err)
	}

	color.Green("✅ Kubeconfig written to %s", path)
	fmt.Println("Rerun 'kubeforge up' to converge the cluster-layer resources.")
	return nil
}

// masterPublicIP resolves the master address from the ledger, falling back to
// a live probe.
func masterPublicIP(ctx context.Context, rt *runtime) (string, error) {
	masterName := rt.cfg.Cluster.Name + "-master"
	if attrs, err := rt.ledger.Get(masterName); err == nil {
		if ip := attrs[resource.AttrPublicIP]; ip != "" {
			return ip, nil
		}
	}
	master, ok := rt.graph.Get(masterName)
	if !ok {
		return "", fmt.Errorf("master %s is not declared", masterName)
	}
	state, err := rt.probers.Probe(ctx, master)
	if err != nil {
		return "", err
	}
	if !state.Exists || state.Attr(resource.AttrPublicIP) == "" {
		return "", fmt.Errorf("master %s has no public IP yet; run 'kubeforge up' first", masterName)
	}
	return state.Attr(resource.AttrPublicIP), nil
}

// rewriteServerAddress points the kubeconfig server entry at the public IP.
func rewriteServerAddress(kubeconfig, publicIP string) string {
	lines := strings.Split(kubeconfig, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "server:") {
			indent := line[:len(line)-len(strings.TrimLeft(line, " "))]
			lines[i] = fmt.Sprintf("%sserver: https://%s:6443", indent, publicIP)
		}
	}
	return strings.Join(lines, "\n")
}

// sshCapture runs a command on the remote host and returns its stdout.
func sshCapture(ctx context.Context, keyPath, host, remoteCmd string) (string, error) {
	cmd := exec.CommandContext(ctx, "ssh",
		"-i", keyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ConnectTimeout=15",
		"ubuntu@"+host,
		remoteCmd,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ssh %s failed: %w: %s", host, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
