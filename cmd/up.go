package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/reconcile"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

var fromStage int

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Converge the cluster toward the declared configuration",
	Long: `Run one full reconciliation pass: probe every declared resource, decide the
minimal action per resource (create, refresh, recreate, wait or nothing), and
execute decisions stage by stage over the dependency graph. Each stage
completes to a stable terminal state before its dependents start.

Running up against an already-converged deployment performs no provider
mutations. After a mid-deploy failure, rerunning resumes where the previous
run stopped.`,
	Example: `  # Converge everything declared in kubeforge.yaml
  kubeforge up

  # Resume after a failure in stage 2
  kubeforge up --from-stage 2

  # Deploy application charts with a specific image tag
  kubeforge up --tag v1.4.2`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().IntVar(&fromStage, "from-stage", 0, "Skip stages before this one (resume after failure)")
	upCmd.Flags().StringVar(&imageTag, "tag", "", "Image tag for application releases (default: latest)")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	printHeader(fmt.Sprintf("Converging cluster: %s", rt.cfg.Cluster.Name))
	fmt.Printf("Region:  %s\n", rt.cfg.Cluster.Region)
	fmt.Printf("Ledger:  %s\n", rt.ledger.Path())
	fmt.Printf("Run ID:  %s\n\n", rt.auditor.RunID())

	rec := reconcile.New(rt.probers, rt.executor, rt.ledger, rt.auditor)
	rec.OnDecision = func(d resource.Descriptor, decision resource.Decision) {
		if decision == resource.DecisionNoOp && !verbose {
			return
		}
		fmt.Printf("  %-10s %s\n", decisionColor(decision), d.ID())
	}

	result, runErr := rec.RunFrom(ctx, rt.graph, fromStage)
	printPassSummary(result)

	if runErr != nil {
		return runErr
	}

	color.Green("\n✅ Cluster %s is converged", rt.cfg.Cluster.Name)
	fmt.Printf("\nSource the ledger for resource attributes:\n  source %s\n", rt.ledger.Path())
	if rt.kube == nil {
		color.Yellow("\nKubeconfig not found yet. Fetch it with: kubeforge kubeconfig")
	}
	return nil
}

func printPassSummary(result *reconcile.PassResult) {
	if result == nil {
		return
	}
	fmt.Println()
	counts := result.Counts()
	fmt.Printf("Summary: %d created, %d refreshed, %d recreated, %d unchanged\n",
		counts[resource.DecisionCreate],
		counts[resource.DecisionRefresh],
		counts[resource.DecisionRecreate],
		counts[resource.DecisionNoOp],
	)

	for _, o := range result.Outcomes {
		if o.Skipped {
			color.Yellow("  skipped %s: %s", o.Descriptor.ID(), o.SkipReason)
		}
	}
	for _, o := range result.Failed() {
		color.Red("  failed %s: %v", o.Descriptor.ID(), o.Err)
	}
	if result.Aborted {
		color.Red("\nPass aborted: %v", result.AbortErr)
	}
}
