package kubernetes

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// LoadConfig resolves a rest.Config: an explicit kubeconfig path wins, then
// the in-cluster service account, then the default loading rules
// (KUBECONFIG, ~/.kube/config).
func LoadConfig(kubeconfigPath, kubeContext string) (*rest.Config, error) {
	overrides := &clientcmd.ConfigOverrides{CurrentContext: strings.TrimSpace(kubeContext)}

	if path := strings.TrimSpace(kubeconfigPath); path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		raw, err := clientcmd.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read kubeconfig %q: %w", path, err)
		}
		cfg, err := clientcmd.NewDefaultClientConfig(*raw, overrides).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build client config from %q: %w", path, err)
		}
		return cfg, nil
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load default kubeconfig: %w", err)
	}
	return cfg, nil
}

func NewFromKubeconfig(kubeconfigPath, kubeContext, namespace string) (*Collector, error) {
	cfg, err := LoadConfig(kubeconfigPath, kubeContext)
	if err != nil {
		return nil, domain.NewConfigurationError("kubernetes collector", err)
	}
	cs, err := k8s.NewForConfig(cfg)
	if err != nil {
		return nil, domain.NewConfigurationError("kubernetes collector", fmt.Errorf("failed to create client: %w", err))
	}
	return NewCollector(cs, namespace), nil
}
