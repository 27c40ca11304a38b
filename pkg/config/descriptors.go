package config

import (
	"encoding/json"
	"fmt"

	"github.com/chalkan3/kubeforge/pkg/resource"
)

// nodeAssumeRolePolicy is the trust policy allowing EC2 to assume the node role.
var nodeAssumeRolePolicy = mustCompactJSON(`{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Service": "ec2.amazonaws.com"},
    "Action": "sts:AssumeRole"
  }]
}`)

// Descriptors derives the full desired resource set from the configuration.
// Every name is a pure function of the cluster name; re-running always
// resolves to the same identities.
func (c *Config) Descriptors(userData func(role string) string) []resource.Descriptor {
	name := c.Cluster.Name
	sgName := name + "-sg"
	roleName := name + "-node-role"
	profileName := name + "-node-profile"
	keyName := name + "-keypair"

	descriptors := []resource.Descriptor{
		{
			Kind: resource.KindIamRole,
			Name: roleName,
			Spec: resource.IamRoleSpec{
				AssumeRolePolicy: nodeAssumeRolePolicy,
				PolicyArns: []string{
					"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly",
				},
			},
		},
		{
			Kind:  resource.KindInstanceProfile,
			Name:  profileName,
			Needs: []string{roleName},
			Spec:  resource.InstanceProfileSpec{RoleName: roleName},
		},
		{
			Kind: resource.KindKeyPair,
			Name: keyName,
			Spec: resource.KeyPairSpec{},
		},
		{
			Kind: resource.KindSecurityGroup,
			Name: sgName,
			Spec: resource.SecurityGroupSpec{
				Description: fmt.Sprintf("kubeforge cluster %s", name),
				Ingress: []resource.IngressRule{
					{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: c.Cluster.SSHCidr},
					{Protocol: "tcp", FromPort: 6443, ToPort: 6443, CIDR: "0.0.0.0/0"},
					{Protocol: "-1", FromPort: -1, ToPort: -1, CIDR: c.Cluster.PodCidr},
				},
			},
		},
		{
			Kind: resource.KindEcrRepository,
			Name: c.Registry.RepositoryName,
			Spec: resource.EcrRepositorySpec{
				ScanOnPush:     true,
				ExpireUntagged: true,
			},
		},
		{
			Kind: resource.KindDynamoTable,
			Name: c.Lock.TableName,
			Spec: resource.DynamoTableSpec{
				HashKey:     c.Lock.HashKey,
				BillingMode: "PAY_PER_REQUEST",
			},
		},
	}

	masterName := name + "-master"
	masterUserData := ""
	workerUserData := ""
	if userData != nil {
		masterUserData = userData("master")
		workerUserData = userData("worker")
	}
	descriptors = append(descriptors, resource.Descriptor{
		Kind:  resource.KindInstance,
		Name:  masterName,
		Needs: []string{sgName, profileName, keyName},
		Spec: resource.InstanceSpec{
			AMI:             c.Cluster.AMI,
			InstanceType:    c.Cluster.MasterType,
			KeyPairName:     keyName,
			SecurityGroup:   sgName,
			InstanceProfile: profileName,
			Role:            "master",
			UserData:        masterUserData,
			VolumeSizeGiB:   c.Cluster.VolumeSizeGiB,
		},
	})

	workerNames := make([]string, 0, c.Cluster.WorkerCount)
	for i := 1; i <= c.Cluster.WorkerCount; i++ {
		workerName := fmt.Sprintf("%s-worker-%d", name, i)
		workerNames = append(workerNames, workerName)
		descriptors = append(descriptors, resource.Descriptor{
			Kind:  resource.KindInstance,
			Name:  workerName,
			Needs: []string{sgName, profileName, keyName, masterName},
			Spec: resource.InstanceSpec{
				AMI:             c.Cluster.AMI,
				InstanceType:    c.Cluster.WorkerType,
				KeyPairName:     keyName,
				SecurityGroup:   sgName,
				InstanceProfile: profileName,
				Role:            "worker",
				UserData:        workerUserData,
				VolumeSizeGiB:   c.Cluster.VolumeSizeGiB,
			},
		})
	}

	clusterNeeds := append([]string{masterName}, workerNames...)

	descriptors = append(descriptors, resource.Descriptor{
		Kind:  resource.KindK8sSecret,
		Name:  c.Registry.SecretName,
		Needs: append([]string{c.Registry.RepositoryName}, clusterNeeds...),
		Spec: resource.K8sSecretSpec{
			Namespace: c.Registry.SecretNamespace,
			Type:      "kubernetes.io/dockerconfigjson",
			TTL:       c.Registry.CredentialTTL,
		},
	})

	for _, svc := range c.Apps.Services {
		chart := svc.Chart
		if chart == "" {
			chart = fmt.Sprintf("%s/%s", c.Apps.ChartPath, svc.Name)
		}
		descriptors = append(descriptors, resource.Descriptor{
			Kind:  resource.KindHelmRelease,
			Name:  svc.Name,
			Needs: []string{c.Registry.SecretName},
			Spec: resource.HelmReleaseSpec{
				Chart:     chart,
				Version:   svc.Version,
				Namespace: c.Apps.Namespace,
				Replicas:  svc.Replicas,
				Values:    svc.Values,
			},
		})
	}

	if c.GitOps.Enabled {
		descriptors = append(descriptors, resource.Descriptor{
			Kind:  resource.KindArgoApplication,
			Name:  c.GitOps.AppName,
			Needs: clusterNeeds,
			Spec: resource.ArgoApplicationSpec{
				Namespace:      c.GitOps.Namespace,
				RepoURL:        c.GitOps.RepoURL,
				TargetRevision: c.GitOps.Branch,
				Path:           c.GitOps.Path,
				DestNamespace:  c.GitOps.DestNamespace,
				Automated:      c.GitOps.Automated,
			},
		})
	}

	return descriptors
}

func mustCompactJSON(doc string) string {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		panic(err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(out)
}
