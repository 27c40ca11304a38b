package manifests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewArgoApplication(t *testing.T) {
	app := NewArgoApplication(ArgoApplicationInput{
		Name:           "retail-apps",
		Namespace:      "argocd",
		RepoURL:        "https://github.com/example/gitops",
		TargetRevision: "main",
		Path:           "argocd/apps",
		DestNamespace:  "retail",
		Automated:      true,
	})

	assert.Equal(t, "argoproj.io/v1alpha1", app.APIVersion)
	assert.Equal(t, "Application", app.Kind)
	assert.Equal(t, "retail-apps", app.Metadata.Name)
	assert.Contains(t, app.Metadata.Finalizers, "resources-finalizer.argocd.argoproj.io")
	assert.Equal(t, "default", app.Spec.Project)
	assert.Equal(t, "https://kubernetes.default.svc", app.Spec.Destination.Server)
	require.NotNil(t, app.Spec.SyncPolicy)
	require.NotNil(t, app.Spec.SyncPolicy.Automated)
	assert.True(t, app.Spec.SyncPolicy.Automated.Prune)
	assert.True(t, app.Spec.SyncPolicy.Automated.SelfHeal)
}

func TestNewArgoApplicationWithoutAutomation(t *testing.T) {
	app := NewArgoApplication(ArgoApplicationInput{
		Name:    "retail-apps",
		RepoURL: "https://github.com/example/gitops",
	})
	assert.Nil(t, app.Spec.SyncPolicy, "manual sync means no syncPolicy block at all")
}

func TestArgoApplicationMarshalYAML(t *testing.T) {
	app := NewArgoApplication(ArgoApplicationInput{
		Name:           "retail-apps",
		Namespace:      "argocd",
		RepoURL:        "https://github.com/example/gitops",
		TargetRevision: "main",
		Path:           "argocd/apps",
		DestNamespace:  "retail",
	})

	out, err := app.MarshalYAML()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "Application", doc["kind"])

	spec, ok := doc["spec"].(map[string]any)
	require.True(t, ok)
	source, ok := spec["source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://github.com/example/gitops", source["repoURL"])
	assert.Equal(t, "main", source["targetRevision"])
}

func TestArgoApplicationToUnstructured(t *testing.T) {
	app := NewArgoApplication(ArgoApplicationInput{
		Name:           "retail-apps",
		Namespace:      "argocd",
		RepoURL:        "https://github.com/example/gitops",
		TargetRevision: "main",
		Path:           "argocd/apps",
		DestNamespace:  "retail",
		Automated:      true,
	})

	obj := app.ToUnstructured()
	assert.Equal(t, "argoproj.io/v1alpha1", obj["apiVersion"])

	meta, ok := obj["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "retail-apps", meta["name"])
	assert.Equal(t, "argocd", meta["namespace"])

	// The dynamic client rejects []string nested in unstructured content, so
	// every slice must come out as []any.
	finalizers, ok := meta["finalizers"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"resources-finalizer.argocd.argoproj.io"}, finalizers)

	spec, ok := obj["spec"].(map[string]any)
	require.True(t, ok)
	policy, ok := spec["syncPolicy"].(map[string]any)
	require.True(t, ok)
	automated, ok := policy["automated"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, automated["prune"])
	options, ok := policy["syncOptions"].([]any)
	require.True(t, ok)
	assert.Contains(t, options, "CreateNamespace=true")
}
