package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/reconcile"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a convergence run would do, without doing it",
	Long: `Probe every declared resource and print the decision a run would take for
each one. No provider mutations are performed; plan is safe at any time.`,
	Example: `  kubeforge plan
  kubeforge plan --config staging.yaml`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	s := newSpinner(fmt.Sprintf("Probing resources for %s...", rt.cfg.Cluster.Name))
	s.Start()
	result, err := reconcile.New(rt.probers, rt.executor, rt.ledger, nil).Plan(ctx, rt.graph)
	s.Stop()
	if err != nil {
		return err
	}

	printHeader(fmt.Sprintf("Plan: %s", rt.cfg.Cluster.Name))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tDECISION")
	fmt.Fprintln(w, "--------\t----\t--------")
	changes := 0
	for _, o := range result.Outcomes {
		decision := "probe failed"
		if o.Err == nil {
			decision = decisionColor(o.Decision)
			if o.Decision != resource.DecisionNoOp {
				changes++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Descriptor.Name, o.Descriptor.Kind, decision)
	}
	w.Flush()

	fmt.Println()
	if changes == 0 {
		color.Green("No changes. Deployment matches the declared configuration.")
	} else {
		color.Yellow("%d resources would change. Apply with: kubeforge up", changes)
	}
	for _, o := range result.Outcomes {
		if o.Err != nil {
			color.Red("  probe failed for %s: %v", o.Descriptor.ID(), o.Err)
		}
	}
	return nil
}
