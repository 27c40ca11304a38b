package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

var statusFormat string

// ResourceStatus is one resource row for JSON/YAML output.
type ResourceStatus struct {
	Name       string            `json:"name" yaml:"name"`
	Kind       string            `json:"kind" yaml:"kind"`
	Phase      string            `json:"phase" yaml:"phase"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// DeploymentStatus is the full status document.
type DeploymentStatus struct {
	Cluster   string           `json:"cluster" yaml:"cluster"`
	Region    string           `json:"region" yaml:"region"`
	Resources []ResourceStatus `json:"resources" yaml:"resources"`
	Nodes     []NodeStatus     `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

// NodeStatus is one Kubernetes node row.
type NodeStatus struct {
	Name    string `json:"name" yaml:"name"`
	Ready   bool   `json:"ready" yaml:"ready"`
	Version string `json:"version" yaml:"version"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live state of every declared resource",
	Long: `Probe the provider for the current phase of every declared resource and,
when the cluster is reachable, list Kubernetes nodes. Status never mutates
anything and never trusts the ledger: everything shown is live provider state.`,
	Example: `  kubeforge status
  kubeforge status --format json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "Output format: table|json|yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if statusFormat != "table" && statusFormat != "json" && statusFormat != "yaml" {
		return fmt.Errorf("invalid output format: %s (must be table, json, or yaml)", statusFormat)
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	s := newSpinner(fmt.Sprintf("Probing %s...", rt.cfg.Cluster.Name))
	if statusFormat == "table" {
		s.Start()
	}

	doc := DeploymentStatus{
		Cluster: rt.cfg.Cluster.Name,
		Region:  rt.cfg.Cluster.Region,
	}
	for _, stage := range rt.graph.Stages() {
		for _, d := range stage {
			row := ResourceStatus{Name: d.Name, Kind: string(d.Kind)}
			state, probeErr := rt.probers.Probe(ctx, d)
			if probeErr != nil {
				row.Phase = string(resource.PhaseUnknown)
				row.Error = probeErr.Error()
			} else {
				row.Phase = string(state.Phase)
				row.Attributes = state.Attributes
			}
			doc.Resources = append(doc.Resources, row)
		}
	}

	if rt.kube != nil {
		nodes, nodeErr := rt.kube.ListNodes(ctx)
		if nodeErr == nil {
			for _, n := range nodes {
				doc.Nodes = append(doc.Nodes, NodeStatus{Name: n.Name, Ready: n.Ready, Version: n.Version})
			}
		}
	}

	s.Stop()

	switch statusFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(doc)
	}
	return printStatusTable(doc)
}

func printStatusTable(doc DeploymentStatus) error {
	printHeader(fmt.Sprintf("Status: %s (%s)", doc.Cluster, doc.Region))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tPHASE\tADDRESS")
	fmt.Fprintln(w, "--------\t----\t-----\t-------")
	for _, r := range doc.Resources {
		address := r.Attributes[resource.AttrPublicIP]
		if address == "" {
			address = r.Attributes[resource.AttrRepositoryURI]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, phaseColor(resource.Phase(r.Phase)), address)
	}
	w.Flush()

	for _, r := range doc.Resources {
		if r.Error != "" {
			color.Red("  %s: %s", r.Name, r.Error)
		}
	}

	if len(doc.Nodes) > 0 {
		fmt.Println()
		color.Cyan("Kubernetes nodes:")
		nw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(nw, "NAME\tREADY\tVERSION")
		for _, n := range doc.Nodes {
			ready := color.GreenString("yes")
			if !n.Ready {
				ready = color.RedString("no")
			}
			fmt.Fprintf(nw, "%s\t%s\t%s\n", n.Name, ready, n.Version)
		}
		nw.Flush()
	}
	return nil
}
