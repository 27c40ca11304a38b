package probe

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/chalkan3/kubeforge/pkg/kube"
	"github.com/chalkan3/kubeforge/pkg/resource"
)

// KubeProber probes in-cluster resources: secrets, Helm releases (via their
// storage secrets) and ArgoCD Applications.
type KubeProber struct {
	client *kube.Client
}

// NewKubeProber creates a prober over the cluster client.
func NewKubeProber(client *kube.Client) *KubeProber {
	return &KubeProber{client: client}
}

// Kinds lists the kinds this prober serves.
func (p *KubeProber) Kinds() []resource.Kind {
	return []resource.Kind{
		resource.KindK8sSecret, resource.KindHelmRelease, resource.KindArgoApplication,
	}
}

// Probe implements Prober.
func (p *KubeProber) Probe(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	return withRetries(ctx, d.ID(), isKubeTransient, func() (resource.ObservedState, error) {
		switch d.Kind {
		case resource.KindK8sSecret:
			return p.probeSecret(ctx, d)
		case resource.KindHelmRelease:
			return p.probeHelmRelease(ctx, d)
		case resource.KindArgoApplication:
			return p.probeArgoApp(ctx, d)
		default:
			return resource.ObservedState{}, fmt.Errorf("kind %s not handled by cluster prober", d.Kind)
		}
	})
}

func (p *KubeProber) probeSecret(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	spec, ok := d.Spec.(resource.K8sSecretSpec)
	if !ok {
		return resource.ObservedState{}, fmt.Errorf("descriptor %s has no secret spec", d.ID())
	}
	info, err := p.client.GetSecretInfo(ctx, spec.Namespace, d.Name)
	if err != nil {
		return resource.ObservedState{}, err
	}
	if !info.Exists {
		return observed(resource.NotFound()), nil
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  resource.PhaseReady,
		Attributes: map[string]string{
			resource.AttrCreatedAt: info.CreatedAt.UTC().Format(time.RFC3339),
			"type":                 info.Type,
			"namespace":            spec.Namespace,
		},
	}), nil
}

func (p *KubeProber) probeHelmRelease(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	spec, ok := d.Spec.(resource.HelmReleaseSpec)
	if !ok {
		return resource.ObservedState{}, fmt.Errorf("descriptor %s has no helm release spec", d.ID())
	}
	info, err := p.client.GetHelmReleaseInfo(ctx, spec.Namespace, d.Name)
	if err != nil {
		return resource.ObservedState{}, err
	}
	if !info.Exists {
		return observed(resource.NotFound()), nil
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  helmPhase(info.Status),
		Attributes: map[string]string{
			resource.AttrRevision: fmt.Sprintf("%d", info.Revision),
			"status":              info.Status,
			"namespace":           spec.Namespace,
		},
	}), nil
}

func helmPhase(status string) resource.Phase {
	switch status {
	case "deployed":
		return resource.PhaseReady
	case "pending-install", "pending-upgrade", "pending-rollback", "uninstalling":
		return resource.PhasePending
	case "failed", "superseded":
		return resource.PhaseDegraded
	case "uninstalled":
		return resource.PhaseTerminated
	}
	return resource.PhaseUnknown
}

func (p *KubeProber) probeArgoApp(ctx context.Context, d resource.Descriptor) (resource.ObservedState, error) {
	spec, ok := d.Spec.(resource.ArgoApplicationSpec)
	if !ok {
		return resource.ObservedState{}, fmt.Errorf("descriptor %s has no application spec", d.ID())
	}
	info, err := p.client.GetArgoAppInfo(ctx, spec.Namespace, d.Name)
	if err != nil {
		return resource.ObservedState{}, err
	}
	if !info.Exists {
		return observed(resource.NotFound()), nil
	}
	return observed(resource.ObservedState{
		Exists: true,
		Phase:  argoPhase(info.SyncStatus, info.Health),
		Attributes: map[string]string{
			resource.AttrSyncStatus: info.SyncStatus,
			resource.AttrHealth:     info.Health,
			resource.AttrRevision:   info.Revision,
		},
	}), nil
}

// argoPhase folds ArgoCD's two status axes into the shared phase taxonomy.
// ArgoCD runs its own reconciliation loop; an OutOfSync application is its
// job to converge, so OutOfSync still maps to ready here rather than
// triggering competing action from this reconciler.
func argoPhase(syncStatus, health string) resource.Phase {
	switch health {
	case "Progressing":
		return resource.PhasePending
	case "Degraded", "Missing":
		return resource.PhaseDegraded
	}
	if syncStatus == "" && health == "" {
		return resource.PhasePending
	}
	return resource.PhaseReady
}

func isKubeTransient(err error) bool {
	return apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err)
}
