package kube

import (
	"context"
	"fmt"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HelmReleaseInfo is the probed state of a Helm release, read from the
// release storage secrets Helm writes into the target namespace
// (sh.helm.release.v1.<name>.v<revision>). Reading storage directly keeps
// the probe side-effect free and independent of the helm binary.
type HelmReleaseInfo struct {
	Exists   bool
	Status   string // deployed, failed, pending-install, ...
	Revision int
}

// GetHelmReleaseInfo probes the newest revision of a release.
func (c *Client) GetHelmReleaseInfo(ctx context.Context, namespace, release string) (HelmReleaseInfo, error) {
	selector := fmt.Sprintf("owner=helm,name=%s", release)
	list, err := c.Clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return HelmReleaseInfo{}, fmt.Errorf("failed to list release storage for %s/%s: %w", namespace, release, err)
	}
	if len(list.Items) == 0 {
		return HelmReleaseInfo{}, nil
	}

	info := HelmReleaseInfo{Exists: true}
	for _, secret := range list.Items {
		version, err := strconv.Atoi(secret.Labels["version"])
		if err != nil {
			continue
		}
		if version > info.Revision {
			info.Revision = version
			info.Status = secret.Labels["status"]
		}
	}
	return info, nil
}
