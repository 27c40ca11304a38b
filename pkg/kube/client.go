// Package kube provides the cluster-side plumbing: kubeconfig-based clients,
// namespace and secret management, Helm release status lookup, and the
// dynamic client access used for ArgoCD Application objects.
package kube

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	corev1 "k8s.io/api/core/v1"
)

// ArgoApplicationGVR locates argoproj.io Application objects for the dynamic
// client.
var ArgoApplicationGVR = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "applications",
}

// Client wraps the typed and dynamic Kubernetes clients for one cluster.
type Client struct {
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
}

// NewFromKubeconfig builds a Client from a kubeconfig file path.
func NewFromKubeconfig(path string) (*Client, error) {
	restCfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", path, err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build Kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build dynamic client: %w", err)
	}
	return &Client{Clientset: clientset, Dynamic: dyn}, nil
}

// EnsureNamespace creates the namespace when it does not already exist.
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	_, err := c.Clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to check namespace %s: %w", name, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if _, err := c.Clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

// NodeSummary is one node row for the status report.
type NodeSummary struct {
	Name    string
	Ready   bool
	Version string
}

// ListNodes returns a summary of cluster nodes.
func (c *Client) ListNodes(ctx context.Context) ([]NodeSummary, error) {
	nodes, err := c.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	out := make([]NodeSummary, 0, len(nodes.Items))
	for _, node := range nodes.Items {
		ready := false
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				ready = true
				break
			}
		}
		out = append(out, NodeSummary{
			Name:    node.Name,
			Ready:   ready,
			Version: node.Status.NodeInfo.KubeletVersion,
		})
	}
	return out, nil
}
