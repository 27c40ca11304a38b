package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	verbose     bool
	autoApprove bool

	// Version information - set by main.go
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// SetVersionInfo sets the version information from main.go
func SetVersionInfo(version, commit, date, builtBy string) {
	Version = version
	Commit = commit
	Date = date
	BuiltBy = builtBy
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kubeforge",
	Short: "Declarative AWS + kubeadm cluster provisioning",
	Long: `Kubeforge converges a kubeadm Kubernetes cluster on AWS toward a declared
configuration: EC2 nodes, security group, IAM instance profile, ECR registry,
DynamoDB lock table, registry pull credentials, Helm releases and an ArgoCD
GitOps application.

Every run probes live provider state first and performs only the actions
needed to converge - reruns after failures are safe and pick up where the
previous run stopped. Discovered resource attributes land in a
shell-sourceable deployment ledger.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./kubeforge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "Auto-approve without prompting")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(`Kubeforge %s
  Commit:    %s
  Built:     %s
  Built by:  %s
`, Version, Commit, Date, BuiltBy))
	rootCmd.Version = Version
}
