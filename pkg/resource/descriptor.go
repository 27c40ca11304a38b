// Package resource defines the declarative resource model: descriptors of
// desired infrastructure state, observed live state, and the reconciliation
// decisions that converge one toward the other.
package resource

import (
	"fmt"
	"time"
)

// Kind identifies the type of a managed resource.
type Kind string

const (
	// KindInstance is an EC2 instance.
	KindInstance Kind = "instance"
	// KindSecurityGroup is an EC2 security group.
	KindSecurityGroup Kind = "security-group"
	// KindIamRole is an IAM role.
	KindIamRole Kind = "iam-role"
	// KindInstanceProfile is an IAM instance profile with an attached role.
	KindInstanceProfile Kind = "instance-profile"
	// KindKeyPair is an EC2 SSH key pair.
	KindKeyPair Kind = "key-pair"
	// KindEcrRepository is an ECR container image repository.
	KindEcrRepository Kind = "ecr-repository"
	// KindDynamoTable is a DynamoDB table.
	KindDynamoTable Kind = "dynamo-table"
	// KindK8sSecret is a Kubernetes secret (registry credential).
	KindK8sSecret Kind = "k8s-secret"
	// KindHelmRelease is a Helm release installed into a namespace.
	KindHelmRelease Kind = "helm-release"
	// KindArgoApplication is an ArgoCD Application object.
	KindArgoApplication Kind = "argo-application"
)

// AllKinds lists every supported kind.
func AllKinds() []Kind {
	return []Kind{
		KindInstance, KindSecurityGroup, KindIamRole, KindInstanceProfile,
		KindKeyPair, KindEcrRepository, KindDynamoTable, KindK8sSecret,
		KindHelmRelease, KindArgoApplication,
	}
}

// Descriptor identifies one managed unit and its desired specification.
// Name is deterministic from project configuration - re-running provisioning
// must resolve to the same descriptor, never a randomly generated identity.
type Descriptor struct {
	Kind Kind
	Name string

	// Needs lists the names of resources that must be reconciled to a
	// terminal-healthy state before this one.
	Needs []string

	// Spec holds the kind-specific desired attributes. It is one of the
	// *Spec structs below.
	Spec any
}

// ID returns the kind-qualified identity of the descriptor.
func (d Descriptor) ID() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Name)
}

// InstanceSpec describes a desired EC2 instance.
type InstanceSpec struct {
	AMI             string
	InstanceType    string
	KeyPairName     string
	SecurityGroup   string
	InstanceProfile string
	Role            string // cluster role: master or worker
	UserData        string
	VolumeSizeGiB   int32
}

// SecurityGroupSpec describes a desired security group.
type SecurityGroupSpec struct {
	Description string
	VpcID       string
	Ingress     []IngressRule
}

// IngressRule is a single inbound rule on a security group.
type IngressRule struct {
	Protocol string
	FromPort int32
	ToPort   int32
	CIDR     string
}

// IamRoleSpec describes a desired IAM role.
type IamRoleSpec struct {
	AssumeRolePolicy string
	PolicyArns       []string
}

// InstanceProfileSpec describes a desired instance profile. The profile is a
// composite resource: it only counts as existing when RoleName is attached.
type InstanceProfileSpec struct {
	RoleName string
}

// KeyPairSpec describes a desired EC2 key pair imported from a local public key.
type KeyPairSpec struct {
	PublicKeyMaterial string
}

// EcrRepositorySpec describes a desired ECR repository.
type EcrRepositorySpec struct {
	ScanOnPush     bool
	ImmutableTags  bool
	ForceDelete    bool
	ExpireUntagged bool
}

// DynamoTableSpec describes a desired DynamoDB table.
type DynamoTableSpec struct {
	HashKey     string
	BillingMode string
}

// K8sSecretSpec describes a desired in-cluster secret. TTL-bearing secrets
// (registry credentials) carry the provider validity window so the reconciler
// can decide Refresh instead of leaving an expired credential in place.
type K8sSecretSpec struct {
	Namespace string
	Type      string
	TTL       time.Duration
}

// HelmReleaseSpec describes a desired Helm release.
type HelmReleaseSpec struct {
	Chart     string
	Version   string
	Namespace string
	Replicas  int
	Values    map[string]any
}

// ArgoApplicationSpec describes a desired ArgoCD Application.
type ArgoApplicationSpec struct {
	Namespace      string
	RepoURL        string
	TargetRevision string
	Path           string
	DestNamespace  string
	Automated      bool
}
