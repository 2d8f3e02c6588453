package clients

import (
	"github.com/pkg/errors"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientSets is a collection of clientSets and kubeConfig needed
type ClientSets struct {
	KubeClient    kubernetes.Interface
	DynamicClient dynamic.Interface
	KubeConfig    *rest.Config
}

// GenerateClientSetFromKubeConfig will generate the kubernetes
// and dynamic clientSets as well as the KubeConfig.
// It uses the in-cluster config when the kubeconfig path is empty.
func (clientSets *ClientSets) GenerateClientSetFromKubeConfig(kubeconfig string) error {

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return errors.Wrapf(err, "unable to build the kubeconfig, err: %v", err)
	}
	k8sClientSet, err := generateK8sClientSet(config)
	if err != nil {
		return err
	}
	dynamicClientSet, err := dynamic.NewForConfig(config)
	if err != nil {
		return errors.Wrapf(err, "unable to generate dynamic clientSet, err: %v", err)
	}
	clientSets.KubeClient = k8sClientSet
	clientSets.DynamicClient = dynamicClientSet
	clientSets.KubeConfig = config
	return nil
}

// generateK8sClientSet will generate the k8s client
func generateK8sClientSet(config *rest.Config) (*kubernetes.Clientset, error) {
	k8sClientSet, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to generate kubernetes clientSet, err: %v", err)
	}
	return k8sClientSet, nil
}
