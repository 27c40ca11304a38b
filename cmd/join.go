package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join provisioned worker nodes to the cluster",
	Long: `Read the kubeadm join command generated on the master and execute it on
every worker that has not joined yet. Worker instances come up with the
container runtime prepared but unjoined; this step completes the cluster.

Workers that are already cluster members are left alone, so join is safe to
rerun after adding workers to the configuration.`,
	Example: `  kubeforge up      # provision master and workers
  kubeforge join    # join workers to the control plane`,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	if rt.cfg.Cluster.PrivateKeyPath == "" {
		return fmt.Errorf("cluster.privateKeyPath is required to reach the nodes over SSH")
	}

	masterIP, err := masterPublicIP(ctx, rt)
	if err != nil {
		return err
	}

	printHeader(fmt.Sprintf("Joining workers: %s", rt.cfg.Cluster.Name))

	s := newSpinner("Reading join command from master...")
	s.Start()
	joinScript, err := sshCapture(ctx, rt.cfg.Cluster.PrivateKeyPath, masterIP,
		"sudo cat /opt/kubeadm-join.sh")
	s.Stop()
	if err != nil {
		return err
	}
	joinScript = strings.TrimSpace(joinScript)
	if joinScript == "" {
		return fmt.Errorf("master has no join command yet; the control plane may still be bootstrapping")
	}

	joined := 0
	var failures []string
	for _, d := range rt.graph.Descriptors() {
		spec, ok := d.Spec.(resource.InstanceSpec)
		if !ok || spec.Role != "worker" {
			continue
		}
		ip, err := workerPublicIP(ctx, rt, d)
		if err != nil {
			color.Red("  %s: %v", d.Name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", d.Name, err))
			continue
		}

		// A kubelet.conf on the worker means it already joined.
		if _, err := sshCapture(ctx, rt.cfg.Cluster.PrivateKeyPath, ip,
			"test -f /etc/kubernetes/kubelet.conf && echo joined"); err == nil {
			color.HiBlack("  %s already joined", d.Name)
			continue
		}

		ws := newSpinner(fmt.Sprintf("Joining %s (%s)...", d.Name, ip))
		ws.Start()
		_, err = sshCapture(ctx, rt.cfg.Cluster.PrivateKeyPath, ip,
			fmt.Sprintf("sudo %s", joinScript))
		ws.Stop()
		if err != nil {
			color.Red("  %s: %v", d.Name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", d.Name, err))
			continue
		}
		color.Green("  %s joined", d.Name)
		joined++
	}

	if err := joinOutcome(joined, failures); err != nil {
		return err
	}

	fmt.Println()
	color.Green("✅ %d workers joined", joined)
	fmt.Println("Verify with: kubeforge status")
	return nil
}

// joinOutcome folds per-worker failures into the command result so scripted
// callers get a non-zero exit when any worker was left unjoined.
func joinOutcome(joined int, failures []string) error {
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("joined %d workers, %d failed: %s", joined, len(failures), strings.Join(failures, "; "))
}

func workerPublicIP(ctx context.Context, rt *runtime, d resource.Descriptor) (string, error) {
	if attrs, err := rt.ledger.Get(d.Name); err == nil {
		if ip := attrs[resource.AttrPublicIP]; ip != "" {
			return ip, nil
		}
	}
	state, err := rt.probers.Probe(ctx, d)
	if err != nil {
		return "", err
	}
	if !state.Exists || state.Attr(resource.AttrPublicIP) == "" {
		return "", fmt.Errorf("no public IP; run 'kubeforge up' first")
	}
	return state.Attr(resource.AttrPublicIP), nil
}
