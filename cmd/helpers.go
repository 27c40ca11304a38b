package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/chalkan3/kubeforge/internal/audit"
	"github.com/chalkan3/kubeforge/pkg/awsclient"
	"github.com/chalkan3/kubeforge/pkg/config"
	"github.com/chalkan3/kubeforge/pkg/executor"
	"github.com/chalkan3/kubeforge/pkg/helmexec"
	"github.com/chalkan3/kubeforge/pkg/kube"
	"github.com/chalkan3/kubeforge/pkg/ledger"
	"github.com/chalkan3/kubeforge/pkg/manifests"
	"github.com/chalkan3/kubeforge/pkg/probe"
	"github.com/chalkan3/kubeforge/pkg/resource"
	"github.com/chalkan3/kubeforge/pkg/terraform"
)

// workDirName holds generated artifacts: rendered values files, terraform
// workspace, audit trail.
const workDirName = ".kubeforge"

var imageTag string

func printHeader(title string) {
	fmt.Println()
	color.Cyan(strings.Repeat("═", len(title)+4))
	color.Cyan("  %s", title)
	color.Cyan(strings.Repeat("═", len(title)+4))
	fmt.Println()
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return s
}

// runtime bundles the wired components shared by all commands.
type runtime struct {
	cfg      *config.Config
	clients  *awsclient.Clients
	probers  *probe.Registry
	executor *executor.Executor
	ledger   *ledger.FileLedger
	auditor  *audit.Logger
	graph    *resource.Graph
	kube     *kube.Client // nil until a kubeconfig exists
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "kubeforge.yaml"
}

// buildRuntime loads configuration and wires the prober, executor and ledger.
// The cluster-layer client is only attached when the kubeconfig file exists;
// until then probes of cluster-layer kinds fail with a remediation pointing
// at 'kubeforge kubeconfig'.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	clients, err := awsclient.New(ctx, cfg.Cluster.Region)
	if err != nil {
		return nil, err
	}

	led := ledger.NewFileLedger(cfg.Ledger.Path)
	auditor := audit.NewLogger(filepath.Join(workDirName, "audit.jsonl"))

	registry := probe.NewRegistry()
	awsProber := probe.NewAWSProber(clients)
	registry.Register(awsProber, awsProber.Kinds()...)

	var kubeClient *kube.Client
	var helmRunner helmexec.Runner
	if _, statErr := os.Stat(cfg.Cluster.KubeconfigPath); statErr == nil {
		kubeClient, err = kube.NewFromKubeconfig(cfg.Cluster.KubeconfigPath)
		if err != nil {
			return nil, err
		}
		kubeProber := probe.NewKubeProber(kubeClient)
		registry.Register(kubeProber, kubeProber.Kinds()...)
		helmRunner = helmexec.NewCLI()
	} else {
		registry.Register(
			probe.Unavailable{Missing: "cluster kubeconfig (run 'kubeforge kubeconfig' once the master is up)"},
			resource.KindK8sSecret, resource.KindHelmRelease, resource.KindArgoApplication,
		)
	}

	publicKey := ""
	if data, readErr := os.ReadFile(cfg.Cluster.PublicKeyPath); readErr == nil {
		publicKey = strings.TrimSpace(string(data))
	}

	var tf *terraform.Backend
	if cfg.Registry.Backend == "terraform" {
		tf = terraform.NewBackend(filepath.Join(workDirName, "terraform"))
	}

	tag := imageTag
	if tag == "" {
		tag = "latest"
	}

	exec := executor.New(executor.Options{
		Region: cfg.Cluster.Region,
		EC2:    clients.EC2,
		IAM:    clients.IAM,
		ECR:    clients.ECR,
		Dynamo: clients.Dynamo,
		Tokens: clients,
		Prober: registry,
		Ledger: led,
		Timing: executor.Timing{
			PollInterval:     cfg.Timing.PollInterval,
			InstanceTimeout:  cfg.Timing.InstanceTimeout,
			IamPropagation:   cfg.Timing.IamPropagation,
			HelmTimeout:      cfg.Timing.HelmTimeout,
			TransitionalWait: cfg.Timing.TransitionalWait,
			TeardownTimeout:  cfg.Timing.TeardownTimeout,
		},
		Kube:              kubeClient,
		Helm:              helmRunner,
		Terraform:         tf,
		PublicKeyMaterial: publicKey,
		RegistryName:      cfg.Registry.RepositoryName,
		PullSecret:        cfg.Registry.SecretName,
		ImageTag:          tag,
		ValuesDir:         filepath.Join(workDirName, "values"),
		Kubeconfig:        cfg.Cluster.KubeconfigPath,
	})

	descriptors := cfg.Descriptors(func(role string) string {
		return manifests.KubeadmUserData(manifests.UserDataInput{
			ClusterName: cfg.Cluster.Name,
			Role:        role,
			PodCidr:     cfg.Cluster.PodCidr,
		})
	})
	graph, err := resource.NewGraph(descriptors)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		clients:  clients,
		probers:  registry,
		executor: exec,
		ledger:   led,
		auditor:  auditor,
		graph:    graph,
		kube:     kubeClient,
	}, nil
}

// decisionColor renders a decision for terminal output.
func decisionColor(d resource.Decision) string {
	switch d {
	case resource.DecisionNoOp:
		return color.HiBlackString("noop")
	case resource.DecisionCreate:
		return color.GreenString("create")
	case resource.DecisionRefresh:
		return color.YellowString("refresh")
	case resource.DecisionRecreate:
		return color.MagentaString("recreate")
	case resource.DecisionDelete:
		return color.RedString("delete")
	case resource.DecisionWait:
		return color.BlueString("wait")
	}
	return string(d)
}

// phaseColor renders a phase for terminal output.
func phaseColor(p resource.Phase) string {
	switch p {
	case resource.PhaseReady:
		return color.GreenString(string(p))
	case resource.PhaseAbsent, resource.PhaseTerminated:
		return color.HiBlackString(string(p))
	case resource.PhaseDegraded:
		return color.RedString(string(p))
	case resource.PhasePending, resource.PhaseStopping:
		return color.YellowString(string(p))
	}
	return string(p)
}
