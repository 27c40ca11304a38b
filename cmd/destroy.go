package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chalkan3/kubeforge/pkg/teardown"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down every provisioned resource",
	Long: `Delete all provisioned resources in reverse dependency order: application
objects first, then cluster credentials, then compute, then identity and
storage. Each deletion is confirmed against the provider before anything that
depends on it is touched - a security group is never deleted while an
instance referencing it still exists.

Destroy is re-runnable: resources that are already gone are recorded and
skipped, and a run interrupted halfway can simply be repeated.`,
	Example: `  # Interactive teardown with double confirmation
  kubeforge destroy

  # Non-interactive (CI) teardown
  kubeforge destroy --yes`,
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	printHeader(fmt.Sprintf("Destroying cluster: %s", rt.cfg.Cluster.Name))
	color.Red("This permanently deletes all instances, the registry (including pushed images),")
	color.Red("the lock table and all IAM resources of this deployment.")
	fmt.Println()

	if !autoApprove {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("stdin is not a terminal; pass --yes to destroy non-interactively")
		}
		if err := confirmDestroy(rt.cfg.Cluster.Name); err != nil {
			return err
		}
	}

	planner := teardown.NewPlanner(rt.probers, rt.executor, rt.ledger, rt.auditor,
		rt.cfg.Timing.PollInterval, rt.cfg.Timing.TeardownTimeout)
	planner.OnStep = func(step teardown.Step) {
		switch step.Status {
		case teardown.StatusDeleted:
			color.Green("  deleted  %s", step.Descriptor.ID())
		case teardown.StatusAbsent:
			color.HiBlack("  absent   %s", step.Descriptor.ID())
		case teardown.StatusSkipped:
			color.Yellow("  skipped  %s (%s)", step.Descriptor.ID(), step.Reason)
		case teardown.StatusFailed:
			color.Red("  failed   %s: %v", step.Descriptor.ID(), step.Err)
		}
	}

	report, runErr := planner.Run(ctx, rt.graph)

	fmt.Println()
	counts := report.Counts()
	fmt.Printf("Summary: %d deleted, %d already absent, %d skipped, %d failed\n",
		counts[teardown.StatusDeleted], counts[teardown.StatusAbsent],
		counts[teardown.StatusSkipped], counts[teardown.StatusFailed])

	if runErr != nil {
		color.Yellow("\nTeardown incomplete. Rerun 'kubeforge destroy' to finish.")
		return runErr
	}
	color.Green("\n✅ Cluster %s destroyed", rt.cfg.Cluster.Name)
	return nil
}

// confirmDestroy requires typing the literal word and then the cluster name.
// Two distinct prompts, not one, so muscle memory cannot complete both.
func confirmDestroy(clusterName string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Type 'destroy' to continue: ")
	answer, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(answer) != "destroy" {
		return fmt.Errorf("teardown cancelled")
	}

	fmt.Printf("Type the cluster name (%s) to confirm: ", clusterName)
	answer, err = reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(answer) != clusterName {
		return fmt.Errorf("cluster name mismatch; teardown cancelled")
	}
	return nil
}
