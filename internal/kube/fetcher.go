// Package kube reads Argo Rollouts resources straight from a cluster.
package kube

import (
	"context"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/phin3has/argolens/internal/apierr"
	"github.com/phin3has/argolens/internal/rollout"
)

// Fetcher lists Rollouts, ReplicaSets and AnalysisRuns in a namespace.
type Fetcher struct {
	client dynamic.Interface
	logger *slog.Logger
}

func NewFetcher(client dynamic.Interface, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, logger: logger}
}

// RESTConfig loads kubeconfig from path, falling back to the in-cluster
// config and then the default loading rules when path is empty.
func RESTConfig(path string) (*rest.Config, error) {
	if path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// NewFetcherFromKubeconfig builds a Fetcher with a dynamic client.
func NewFetcherFromKubeconfig(path string, logger *slog.Logger) (*Fetcher, error) {
	cfg, err := RESTConfig(path)
	if err != nil {
		return nil, apierr.Configuration("load kubeconfig: %v", err)
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, apierr.Configuration("build dynamic client: %v", err)
	}
	return NewFetcher(client, logger), nil
}

// Resources returns every Rollout, ReplicaSet and AnalysisRun in namespace.
// Missing CRDs (Rollouts not installed) yield no objects of that kind rather
// than an error; any other list failure is returned.
func (f *Fetcher) Resources(ctx context.Context, namespace string) ([]*unstructured.Unstructured, error) {
	var out []*unstructured.Unstructured
	for _, gvr := range []schema.GroupVersionResource{
		rollout.RolloutResource,
		rollout.ReplicaSetResource,
		rollout.AnalysisRunResource,
	} {
		list, err := f.client.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				f.logger.Debug("resource not served", "resource", gvr.String(), "namespace", namespace)
				continue
			}
			return nil, apierr.RequestFailedCause(err, "list %s in namespace %s: %v", gvr.Resource, namespace, err)
		}
		for i := range list.Items {
			out = append(out, &list.Items[i])
		}
	}
	f.logger.Debug("listed rollout resources", "namespace", namespace, "count", len(out))
	return out, nil
}
