package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the registry pull credential now",
	Long: `Force-rotate the registry credential secret regardless of its remaining
validity: fetch a fresh registry authorization token, rebuild the pull secret
and replace it in the cluster. Workloads reference the secret by name, so
rotation never disturbs them.

Normally rotation happens automatically during 'kubeforge up' once the
credential is older than its validity window; refresh exists for rotating
ahead of schedule.`,
	Example: `  kubeforge refresh`,
	RunE:    runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	var secret resource.Descriptor
	found := false
	for _, d := range rt.graph.Descriptors() {
		if d.Kind == resource.KindK8sSecret {
			secret = d
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no registry credential secret is declared")
	}

	s := newSpinner(fmt.Sprintf("Rotating credential %s...", secret.Name))
	s.Start()
	observed, err := rt.probers.Probe(ctx, secret)
	if err != nil {
		s.Stop()
		return err
	}
	attrs, err := rt.executor.Execute(ctx, secret, resource.DecisionRefresh, observed)
	s.Stop()
	if err != nil {
		return err
	}
	if err := rt.ledger.Upsert(secret.Name, attrs); err != nil {
		return err
	}

	color.Green("✅ Credential %s rotated", secret.Name)
	if spec, ok := secret.Spec.(resource.K8sSecretSpec); ok && spec.TTL > 0 {
		fmt.Printf("Next rotation due in %s (or on the next 'kubeforge up' after that)\n", spec.TTL)
	}
	return nil
}
