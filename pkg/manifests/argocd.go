// Package manifests builds the Kubernetes and Helm documents the executor
// applies. Everything is a typed struct serialized through yaml/json encoders;
// no string-templated YAML, no shell quoting hazards.
package manifests

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ArgoApplication models an argoproj.io/v1alpha1 Application.
type ArgoApplication struct {
	APIVersion string      `yaml:"apiVersion"`
	Kind       string      `yaml:"kind"`
	Metadata   ObjectMeta  `yaml:"metadata"`
	Spec       ArgoAppSpec `yaml:"spec"`
}

// ObjectMeta is the manifest metadata block.
type ObjectMeta struct {
	Name       string            `yaml:"name"`
	Namespace  string            `yaml:"namespace,omitempty"`
	Labels     map[string]string `yaml:"labels,omitempty"`
	Finalizers []string          `yaml:"finalizers,omitempty"`
}

// ArgoAppSpec is the Application spec block.
type ArgoAppSpec struct {
	Project     string          `yaml:"project"`
	Source      ArgoAppSource   `yaml:"source"`
	Destination ArgoDestination `yaml:"destination"`
	SyncPolicy  *ArgoSyncPolicy `yaml:"syncPolicy,omitempty"`
}

// ArgoAppSource points at the GitOps repository path being watched.
type ArgoAppSource struct {
	RepoURL        string `yaml:"repoURL"`
	TargetRevision string `yaml:"targetRevision"`
	Path           string `yaml:"path"`
}

// ArgoDestination is the target cluster and namespace.
type ArgoDestination struct {
	Server    string `yaml:"server"`
	Namespace string `yaml:"namespace"`
}

// ArgoSyncPolicy enables automated sync with pruning and self-heal.
type ArgoSyncPolicy struct {
	Automated   *ArgoAutomatedSync `yaml:"automated,omitempty"`
	SyncOptions []string           `yaml:"syncOptions,omitempty"`
}

// ArgoAutomatedSync is the automated sync block.
type ArgoAutomatedSync struct {
	Prune    bool `yaml:"prune"`
	SelfHeal bool `yaml:"selfHeal"`
}

// ArgoApplicationInput carries the fields needed to build an Application.
type ArgoApplicationInput struct {
	Name           string
	Namespace      string
	RepoURL        string
	TargetRevision string
	Path           string
	DestNamespace  string
	Automated      bool
}

// NewArgoApplication builds a typed Application manifest.
func NewArgoApplication(in ArgoApplicationInput) *ArgoApplication {
	app := &ArgoApplication{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "Application",
		Metadata: ObjectMeta{
			Name:       in.Name,
			Namespace:  in.Namespace,
			Finalizers: []string{"resources-finalizer.argocd.argoproj.io"},
			Labels:     map[string]string{"app.kubernetes.io/managed-by": "kubeforge"},
		},
		Spec: ArgoAppSpec{
			Project: "default",
			Source: ArgoAppSource{
				RepoURL:        in.RepoURL,
				TargetRevision: in.TargetRevision,
				Path:           in.Path,
			},
			Destination: ArgoDestination{
				Server:    "https://kubernetes.default.svc",
				Namespace: in.DestNamespace,
			},
		},
	}
	if in.Automated {
		app.Spec.SyncPolicy = &ArgoSyncPolicy{
			Automated:   &ArgoAutomatedSync{Prune: true, SelfHeal: true},
			SyncOptions: []string{"CreateNamespace=true"},
		}
	}
	return app
}

// MarshalYAML renders the Application as a YAML document.
func (a *ArgoApplication) MarshalYAML() ([]byte, error) {
	out, err := yaml.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Application %s: %w", a.Metadata.Name, err)
	}
	return out, nil
}

// ToUnstructured returns the Application as the nested map shape that the
// dynamic Kubernetes client applies.
func (a *ArgoApplication) ToUnstructured() map[string]any {
	meta := map[string]any{
		"name":       a.Metadata.Name,
		"finalizers": toAnySlice(a.Metadata.Finalizers),
	}
	if a.Metadata.Namespace != "" {
		meta["namespace"] = a.Metadata.Namespace
	}
	if len(a.Metadata.Labels) > 0 {
		labels := map[string]any{}
		for k, v := range a.Metadata.Labels {
			labels[k] = v
		}
		meta["labels"] = labels
	}

	spec := map[string]any{
		"project": a.Spec.Project,
		"source": map[string]any{
			"repoURL":        a.Spec.Source.RepoURL,
			"targetRevision": a.Spec.Source.TargetRevision,
			"path":           a.Spec.Source.Path,
		},
		"destination": map[string]any{
			"server":    a.Spec.Destination.Server,
			"namespace": a.Spec.Destination.Namespace,
		},
	}
	if a.Spec.SyncPolicy != nil {
		policy := map[string]any{}
		if a.Spec.SyncPolicy.Automated != nil {
			policy["automated"] = map[string]any{
				"prune":    a.Spec.SyncPolicy.Automated.Prune,
				"selfHeal": a.Spec.SyncPolicy.Automated.SelfHeal,
			}
		}
		if len(a.Spec.SyncPolicy.SyncOptions) > 0 {
			policy["syncOptions"] = toAnySlice(a.Spec.SyncPolicy.SyncOptions)
		}
		spec["syncPolicy"] = policy
	}

	return map[string]any{
		"apiVersion": a.APIVersion,
		"kind":       a.Kind,
		"metadata":   meta,
		"spec":       spec,
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
