package kube

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	corev1 "k8s.io/api/core/v1"
)

// SecretInfo is the probed state of a secret.
type SecretInfo struct {
	Exists    bool
	Type      string
	CreatedAt time.Time
}

// GetSecretInfo probes a secret by namespace/name without side effects.
func (c *Client) GetSecretInfo(ctx context.Context, namespace, name string) (SecretInfo, error) {
	secret, err := c.Clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return SecretInfo{}, nil
		}
		return SecretInfo{}, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return SecretInfo{
		Exists:    true,
		Type:      string(secret.Type),
		CreatedAt: secret.CreationTimestamp.Time,
	}, nil
}

// ReplaceDockerConfigSecret deletes and recreates a docker-registry secret
// with the given .dockerconfigjson payload. Delete-then-create rather than
// update keeps the creation timestamp honest as the credential's issue time,
// which is what the TTL refresh decision keys on. Consumers reference the
// secret by name, so rotation never disturbs them.
func (c *Client) ReplaceDockerConfigSecret(ctx context.Context, namespace, name string, dockerConfigJSON []byte) error {
	secrets := c.Clientset.CoreV1().Secrets(namespace)

	err := secrets.Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s/%s: %w", namespace, name, err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "kubeforge"},
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			corev1.DockerConfigJsonKey: dockerConfigJSON,
		},
	}
	if _, err := secrets.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteSecret removes a secret, tolerating absence.
func (c *Client) DeleteSecret(ctx context.Context, namespace, name string) error {
	err := c.Clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s/%s: %w", namespace, name, err)
	}
	return nil
}
