package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chalkan3/kubeforge/pkg/config"
	"github.com/chalkan3/kubeforge/pkg/ledger"
)

var ledgerRaw bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the deployment ledger",
	Long: `Print the recorded attributes of every provisioned resource. The ledger is
a cache of the last reconciliation, not a source of truth - use
'kubeforge status' for live provider state.

With --raw the ledger file is printed verbatim; it is shell-sourceable, so
'source' it to export all attributes into the environment.`,
	Example: `  kubeforge ledger
  kubeforge ledger --raw
  source deployment-info.txt`,
	RunE: runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().BoolVar(&ledgerRaw, "raw", false, "Print the ledger file verbatim")
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	if ledgerRaw {
		data, err := os.ReadFile(cfg.Ledger.Path)
		if err != nil {
			if os.IsNotExist(err) {
				color.Yellow("No ledger at %s. Deploy first with: kubeforge up", cfg.Ledger.Path)
				return nil
			}
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	led := ledger.NewFileLedger(cfg.Ledger.Path)
	entries, err := led.Snapshot()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		color.Yellow("Ledger is empty. Deploy first with: kubeforge up")
		return nil
	}

	printHeader(fmt.Sprintf("Ledger: %s", cfg.Ledger.Path))

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range names {
		attrs := entries[name]
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		color.Cyan(name)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%s\n", k, attrs[k])
		}
		w.Flush()
		fmt.Println()
	}
	return nil
}
