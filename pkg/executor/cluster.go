package executor

import (
	"context"
	"fmt"

	"github.com/chalkan3/kubeforge/pkg/helmexec"
	"github.com/chalkan3/kubeforge/pkg/manifests"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// refresh rotates the registry credential secret: fetch a fresh authorization
// token, rebuild the dockerconfigjson payload and replace the secret. The
// delete-then-create replacement resets the creation timestamp, which is what
// the TTL decision reads as the credential's issue time. Consumers reference
// the secret by name only, so rotation never disturbs running workloads.
func (e *Executor) refresh(ctx context.Context, d resource.Descriptor) (map[string]string, error) {
	if d.Kind != resource.KindK8sSecret {
		return nil, fmt.Errorf("kind %s does not support refresh", d.Kind)
	}
	if err := e.requireCluster(d); err != nil {
		return nil, err
	}
	spec, ok := d.Spec.(resource.K8sSecretSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no secret spec", d.ID())
	}

	token, err := e.opts.Tokens.GetRegistryToken(ctx)
	if err != nil {
		return nil, providerErr(d, "fetch registry token", err)
	}
	payload, err := manifests.DockerConfigJSON(token.Registry, token.Username, token.Password)
	if err != nil {
		return nil, err
	}

	if err := e.opts.Kube.EnsureNamespace(ctx, spec.Namespace); err != nil {
		return nil, err
	}
	if err := e.opts.Kube.ReplaceDockerConfigSecret(ctx, spec.Namespace, d.Name, payload); err != nil {
		return nil, err
	}

	attrs, err := e.awaitReady(ctx, d, e.timeoutFor(d.Kind))
	if err != nil {
		return nil, err
	}
	attrs[resource.AttrRegistryURL] = token.Registry
	return attrs, nil
}

// installRelease converges a Helm release with upgrade --install --wait. The
// rendered values overlay pins image coordinates to the provisioned registry
// and the pull secret, with per-service overrides merged on top.
func (e *Executor) installRelease(ctx context.Context, d resource.Descriptor) (map[string]string, error) {
	if err := e.requireCluster(d); err != nil {
		return nil, err
	}
	spec, ok := d.Spec.(resource.HelmReleaseSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no helm release spec", d.ID())
	}

	repositoryURI, err := e.dependencyAttr(e.opts.RegistryName, resource.AttrRepositoryURI)
	if err != nil {
		return nil, err
	}

	values := manifests.NewHelmValues(manifests.HelmValuesInput{
		Service:        d.Name,
		RepositoryURI:  repositoryURI,
		Tag:            e.opts.ImageTag,
		Replicas:       spec.Replicas,
		PullSecretName: e.opts.PullSecret,
		Overrides:      spec.Values,
	})
	valuesFile, err := values.WriteFile(e.opts.ValuesDir, d.Name)
	if err != nil {
		return nil, err
	}

	err = e.opts.Helm.UpgradeInstall(ctx, helmexec.InstallOptions{
		Release:     d.Name,
		Chart:       spec.Chart,
		Version:     spec.Version,
		Namespace:   spec.Namespace,
		ValuesFiles: []string{valuesFile},
		Timeout:     e.opts.Timing.HelmTimeout,
		Kubeconfig:  e.opts.Kubeconfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to converge release %s: %w", d.Name, err)
	}

	// helm --wait already blocked until deployed; one probe records the
	// revision and status for the ledger.
	state, err := e.opts.Prober.Probe(ctx, d)
	if err != nil {
		return nil, err
	}
	return state.Attributes, nil
}

// applyArgoApp creates or updates the GitOps Application and waits for ArgoCD
// to report it synced and healthy.
func (e *Executor) applyArgoApp(ctx context.Context, d resource.Descriptor) (map[string]string, error) {
	if err := e.requireCluster(d); err != nil {
		return nil, err
	}
	spec, ok := d.Spec.(resource.ArgoApplicationSpec)
	if !ok {
		return nil, fmt.Errorf("descriptor %s has no application spec", d.ID())
	}

	app := manifests.NewArgoApplication(manifests.ArgoApplicationInput{
		Name:           d.Name,
		Namespace:      spec.Namespace,
		RepoURL:        spec.RepoURL,
		TargetRevision: spec.TargetRevision,
		Path:           spec.Path,
		DestNamespace:  spec.DestNamespace,
		Automated:      spec.Automated,
	})
	if err := e.opts.Kube.ApplyArgoApp(ctx, spec.Namespace, app.ToUnstructured()); err != nil {
		return nil, err
	}

	return e.awaitReady(ctx, d, e.opts.Timing.HelmTimeout)
}
