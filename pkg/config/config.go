// Package config loads and validates the kubeforge deployment configuration.
// The configuration is the single source of resource identity: descriptor
// names are derived deterministically from the cluster name so repeated runs
// always resolve to the same resources.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level kubeforge.yaml document.
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster" validate:"required"`
	Registry RegistryConfig `yaml:"registry"`
	Lock     LockConfig     `yaml:"lock"`
	Apps     AppsConfig     `yaml:"apps"`
	GitOps   GitOpsConfig   `yaml:"gitops"`
	Timing   TimingConfig   `yaml:"timing"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ClusterConfig describes the kubeadm cluster compute layer.
type ClusterConfig struct {
	Name           string `yaml:"name" validate:"required,hostname_rfc1123"`
	Region         string `yaml:"region" validate:"required"`
	AMI            string `yaml:"ami" validate:"required,startswith=ami-"`
	MasterType     string `yaml:"masterType" validate:"required"`
	WorkerType     string `yaml:"workerType" validate:"required"`
	WorkerCount    int    `yaml:"workerCount" validate:"min=0,max=16"`
	VolumeSizeGiB  int32  `yaml:"volumeSizeGiB" validate:"min=8,max=1024"`
	PublicKeyPath  string `yaml:"publicKeyPath" validate:"required"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
	KubeconfigPath string `yaml:"kubeconfigPath"`
	SSHCidr        string `yaml:"sshCidr" validate:"omitempty,cidr"`
	PodCidr        string `yaml:"podCidr" validate:"omitempty,cidr"`
}

// RegistryConfig describes the container registry and its pull credential.
type RegistryConfig struct {
	RepositoryName string `yaml:"repositoryName"`
	// Backend selects the actuation path for the repository: "sdk" performs
	// typed ECR calls, "terraform" drives the repository through a generated
	// terraform configuration.
	Backend         string `yaml:"backend" validate:"omitempty,oneof=sdk terraform"`
	SecretName      string `yaml:"secretName"`
	SecretNamespace string `yaml:"secretNamespace"`
	// CredentialTTL is the provider validity window of the registry
	// authorization token. It is configuration, not a constant: the window
	// is an observed provider behavior, not a guaranteed SLA.
	CredentialTTL time.Duration `yaml:"credentialTTL"`
}

// LockConfig describes the DynamoDB state-lock table.
type LockConfig struct {
	TableName string `yaml:"tableName"`
	HashKey   string `yaml:"hashKey"`
}

// AppsConfig lists the Helm releases of the sample application.
type AppsConfig struct {
	Namespace string     `yaml:"namespace"`
	ChartPath string     `yaml:"chartPath"`
	Services  []AppChart `yaml:"services" validate:"dive"`
}

// AppChart is one Helm release of the retail application.
type AppChart struct {
	Name     string         `yaml:"name" validate:"required,hostname_rfc1123"`
	Chart    string         `yaml:"chart"`
	Version  string         `yaml:"version"`
	Replicas int            `yaml:"replicas" validate:"min=0,max=20"`
	Values   map[string]any `yaml:"values"`
}

// GitOpsConfig wires the ArgoCD Application that watches the GitOps repo.
type GitOpsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AppName       string `yaml:"appName"`
	Namespace     string `yaml:"namespace"`
	RepoURL       string `yaml:"repoURL" validate:"required_with=Enabled,omitempty,url"`
	Branch        string `yaml:"branch"`
	Path          string `yaml:"path"`
	DestNamespace string `yaml:"destNamespace"`
	Automated     bool   `yaml:"automated"`
}

// TimingConfig externalizes every propagation window and poll bound that the
// shell-script ancestry hardcoded as sleeps.
type TimingConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	InstanceTimeout  time.Duration `yaml:"instanceTimeout"`
	IamPropagation   time.Duration `yaml:"iamPropagation"`
	HelmTimeout      time.Duration `yaml:"helmTimeout"`
	TransitionalWait time.Duration `yaml:"transitionalWait"`
	TeardownTimeout  time.Duration `yaml:"teardownTimeout"`
}

// LedgerConfig locates the deployment ledger file.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	name := c.Cluster.Name
	if c.Cluster.WorkerCount == 0 {
		c.Cluster.WorkerCount = 2
	}
	if c.Cluster.VolumeSizeGiB == 0 {
		c.Cluster.VolumeSizeGiB = 30
	}
	if c.Cluster.SSHCidr == "" {
		c.Cluster.SSHCidr = "0.0.0.0/0"
	}
	if c.Cluster.PodCidr == "" {
		c.Cluster.PodCidr = "192.168.0.0/16"
	}
	if c.Registry.RepositoryName == "" {
		c.Registry.RepositoryName = name + "-registry"
	}
	if c.Registry.Backend == "" {
		c.Registry.Backend = "sdk"
	}
	if c.Registry.SecretName == "" {
		c.Registry.SecretName = "regcred"
	}
	if c.Registry.SecretNamespace == "" {
		c.Registry.SecretNamespace = "default"
	}
	if c.Registry.CredentialTTL == 0 {
		c.Registry.CredentialTTL = 12 * time.Hour
	}
	if c.Lock.TableName == "" {
		c.Lock.TableName = name + "-lock"
	}
	if c.Lock.HashKey == "" {
		c.Lock.HashKey = "LockID"
	}
	if c.Apps.Namespace == "" {
		c.Apps.Namespace = "retail"
	}
	if c.GitOps.AppName == "" {
		c.GitOps.AppName = name + "-apps"
	}
	if c.GitOps.Namespace == "" {
		c.GitOps.Namespace = "argocd"
	}
	if c.GitOps.Branch == "" {
		c.GitOps.Branch = "main"
	}
	if c.GitOps.Path == "" {
		c.GitOps.Path = "argocd/apps"
	}
	if c.GitOps.DestNamespace == "" {
		c.GitOps.DestNamespace = c.Apps.Namespace
	}
	if c.Timing.PollInterval == 0 {
		c.Timing.PollInterval = 5 * time.Second
	}
	if c.Timing.InstanceTimeout == 0 {
		c.Timing.InstanceTimeout = 5 * time.Minute
	}
	if c.Timing.IamPropagation == 0 {
		c.Timing.IamPropagation = 90 * time.Second
	}
	if c.Timing.HelmTimeout == 0 {
		c.Timing.HelmTimeout = 10 * time.Minute
	}
	if c.Timing.TransitionalWait == 0 {
		c.Timing.TransitionalWait = 3 * time.Minute
	}
	if c.Timing.TeardownTimeout == 0 {
		c.Timing.TeardownTimeout = 10 * time.Minute
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "deployment-info.txt"
	}
	if c.Cluster.KubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Cluster.KubeconfigPath = home + "/.kube/kubeforge/" + name + ".yaml"
		}
	}
}

// Validate checks the configuration against its declared constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.GitOps.Enabled && c.GitOps.RepoURL == "" {
		return fmt.Errorf("invalid configuration: gitops.repoURL is required when gitops is enabled")
	}
	return nil
}
