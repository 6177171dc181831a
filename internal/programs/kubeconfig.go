package programs

import (
	"encoding/base64"
	"fmt"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// KubeConfig renders a kubeconfig for an EKS cluster that authenticates by
// assuming roleArn through aws-iam-authenticator.
func KubeConfig(name, server, caData, clusterName, roleArn string) (string, error) {
	ca, err := base64.StdEncoding.DecodeString(caData)
	if err != nil {
		return "", fmt.Errorf("invalid certificate authority data: %w", err)
	}

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[name] = &clientcmdapi.Cluster{
		Server:                   server,
		CertificateAuthorityData: ca,
	}
	cfg.AuthInfos[name] = &clientcmdapi.AuthInfo{
		Exec: &clientcmdapi.ExecConfig{
			APIVersion:      "client.authentication.k8s.io/v1beta1",
			Command:         "aws-iam-authenticator",
			Args:            []string{"token", "--cluster-id", clusterName, "--role", roleArn},
			InteractiveMode: clientcmdapi.NeverExecInteractiveMode,
		},
	}
	cfg.Contexts[name] = &clientcmdapi.Context{
		Cluster:   name,
		AuthInfo:  name,
		Namespace: "default",
	}
	cfg.CurrentContext = name

	out, err := clientcmd.Write(*cfg)
	if err != nil {
		return "", fmt.Errorf("failed to render kubeconfig: %w", err)
	}
	return string(out), nil
}
