package manifests

import (
	"fmt"
	"strings"
)

// UserDataInput parameterizes the kubeadm bootstrap script baked into the
// instance user data.
type UserDataInput struct {
	ClusterName       string
	Role              string // master or worker
	PodCidr           string
	KubernetesVersion string
}

// KubeadmUserData renders the cloud-init bootstrap script for a node. The
// script installs a container runtime and kubeadm; masters run kubeadm init
// and install the CNI, workers wait for a join command delivered over SSH by
// the executor once the master is Ready.
func KubeadmUserData(in UserDataInput) string {
	version := in.KubernetesVersion
	if version == "" {
		version = "1.31"
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -euxo pipefail\n\n")
	b.WriteString("swapoff -a\nsed -i '/ swap / s/^/#/' /etc/fstab\n\n")
	b.WriteString("modprobe br_netfilter\n")
	b.WriteString("cat <<SYSCTL >/etc/sysctl.d/k8s.conf\n")
	b.WriteString("net.bridge.bridge-nf-call-iptables = 1\n")
	b.WriteString("net.ipv4.ip_forward = 1\n")
	b.WriteString("SYSCTL\nsysctl --system\n\n")
	b.WriteString("apt-get update\napt-get install -y containerd apt-transport-https ca-certificates curl gpg\n")
	b.WriteString("mkdir -p /etc/containerd\ncontainerd config default >/etc/containerd/config.toml\n")
	b.WriteString("sed -i 's/SystemdCgroup = false/SystemdCgroup = true/' /etc/containerd/config.toml\n")
	b.WriteString("systemctl restart containerd\n\n")
	b.WriteString("mkdir -p /etc/apt/keyrings\n")
	fmt.Fprintf(&b, "curl -fsSL https://pkgs.k8s.io/core:/stable:/v%s/deb/Release.key | gpg --dearmor -o /etc/apt/keyrings/kubernetes-apt-keyring.gpg\n", version)
	fmt.Fprintf(&b, "echo 'deb [signed-by=/etc/apt/keyrings/kubernetes-apt-keyring.gpg] https://pkgs.k8s.io/core:/stable:/v%s/deb/ /' >/etc/apt/sources.list.d/kubernetes.list\n", version)
	b.WriteString("apt-get update\napt-get install -y kubelet kubeadm kubectl\napt-mark hold kubelet kubeadm kubectl\n\n")

	if in.Role == "master" {
		fmt.Fprintf(&b, "kubeadm init --pod-network-cidr=%s --node-name=%s-master\n", in.PodCidr, in.ClusterName)
		b.WriteString("mkdir -p /home/ubuntu/.kube\n")
		b.WriteString("cp /etc/kubernetes/admin.conf /home/ubuntu/.kube/config\n")
		b.WriteString("chown -R ubuntu:ubuntu /home/ubuntu/.kube\n")
		b.WriteString("export KUBECONFIG=/etc/kubernetes/admin.conf\n")
		b.WriteString("kubectl apply -f https://raw.githubusercontent.com/projectcalico/calico/v3.28.0/manifests/calico.yaml\n")
		b.WriteString("kubeadm token create --print-join-command >/opt/kubeadm-join.sh\n")
		b.WriteString("chmod 600 /opt/kubeadm-join.sh\n")
	} else {
		// Workers only prepare the runtime; the join command is executed by
		// the provisioner after the master reports Ready.
		b.WriteString("touch /opt/kubeadm-prepared\n")
	}

	return b.String()
}
