package kube

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ArgoAppInfo is the probed state of an ArgoCD Application.
type ArgoAppInfo struct {
	Exists     bool
	SyncStatus string // Synced, OutOfSync, Unknown
	Health     string // Healthy, Progressing, Degraded, ...
	Revision   string
}

// GetArgoAppInfo probes an Application by namespace/name.
func (c *Client) GetArgoAppInfo(ctx context.Context, namespace, name string) (ArgoAppInfo, error) {
	obj, err := c.Dynamic.Resource(ArgoApplicationGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ArgoAppInfo{}, nil
		}
		return ArgoAppInfo{}, fmt.Errorf("failed to get application %s/%s: %w", namespace, name, err)
	}

	info := ArgoAppInfo{Exists: true}
	if sync, found, _ := unstructured.NestedString(obj.Object, "status", "sync", "status"); found {
		info.SyncStatus = sync
	}
	if health, found, _ := unstructured.NestedString(obj.Object, "status", "health", "status"); found {
		info.Health = health
	}
	if rev, found, _ := unstructured.NestedString(obj.Object, "status", "sync", "revision"); found {
		info.Revision = rev
	}
	return info, nil
}

// ApplyArgoApp creates or updates an Application from its unstructured form.
func (c *Client) ApplyArgoApp(ctx context.Context, namespace string, manifest map[string]any) error {
	obj := &unstructured.Unstructured{Object: manifest}
	name := obj.GetName()
	apps := c.Dynamic.Resource(ArgoApplicationGVR).Namespace(namespace)

	existing, err := apps.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to get application %s/%s: %w", namespace, name, err)
		}
		if _, err := apps.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create application %s/%s: %w", namespace, name, err)
		}
		return nil
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	if _, err := apps.Update(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update application %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteArgoApp removes an Application, tolerating absence.
func (c *Client) DeleteArgoApp(ctx context.Context, namespace, name string) error {
	err := c.Dynamic.Resource(ArgoApplicationGVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete application %s/%s: %w", namespace, name, err)
	}
	return nil
}
