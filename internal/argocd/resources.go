package argocd

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/phin3has/argolens/internal/apierr"
)

const manifestFetchLimit = 6

// lifecycleKinds are the resource-tree nodes whose live manifests feed the
// rollout reconciler, keyed by group/kind.
var lifecycleKinds = map[string]bool{
	"argoproj.io/Rollout":     true,
	"argoproj.io/AnalysisRun": true,
	"apps/ReplicaSet":         true,
}

type resourceResponse struct {
	Manifest string `json:"manifest"`
}

// ResourceTree returns the application's resource tree.
func (s *Service) ResourceTree(ctx context.Context, instanceName, appName, appNamespace string) (*ResourceTree, error) {
	inst, err := s.instance(instanceName)
	if err != nil {
		return nil, apierr.Wrap(err, fmt.Sprintf("Failed to fetch resource tree from Instance '%s'%s",
			instanceName, describeParams([][2]string{{"appName", appName}, {"appNamespace", appNamespace}})))
	}
	url := buildURL(inst.URL, []string{"api", "v1", "applications", appName, "resource-tree"},
		[][2]string{{"appNamespace", appNamespace}})
	var tree ResourceTree
	if err := s.get(ctx, inst, "resource_tree", url, &tree); err != nil {
		return nil, apierr.Wrap(err, fmt.Sprintf("Failed to fetch resource tree from Instance '%s'%s",
			instanceName, describeParams([][2]string{{"appName", appName}, {"appNamespace", appNamespace}})))
	}
	return &tree, nil
}

// ApplicationResources returns the live Rollout, ReplicaSet and AnalysisRun
// manifests of an application. Manifests that cannot be fetched or decoded
// are skipped; only the resource tree itself is fatal.
func (s *Service) ApplicationResources(ctx context.Context, instanceName, appName, appNamespace string) ([]*unstructured.Unstructured, error) {
	tree, err := s.ResourceTree(ctx, instanceName, appName, appNamespace)
	if err != nil {
		return nil, err
	}
	inst, _ := s.instance(instanceName)

	var nodes []ResourceNode
	for _, n := range tree.Nodes {
		if lifecycleKinds[n.Group+"/"+n.Kind] {
			nodes = append(nodes, n)
		}
	}

	out := make([]*unstructured.Unstructured, len(nodes))
	var g errgroup.Group
	g.SetLimit(manifestFetchLimit)
	for i, n := range nodes {
		g.Go(func() error {
			obj, err := s.liveManifest(ctx, inst, appName, appNamespace, n.ResourceRef)
			if err != nil {
				s.logger.Warn("skipping live manifest",
					"instance", inst.Name,
					"app", appName,
					"kind", n.Kind,
					"name", n.Name,
					"err", err,
				)
				return nil
			}
			out[i] = obj
			return nil
		})
	}
	_ = g.Wait()

	res := make([]*unstructured.Unstructured, 0, len(out))
	for _, o := range out {
		if o != nil {
			res = append(res, o)
		}
	}
	return res, nil
}

func (s *Service) liveManifest(ctx context.Context, inst Instance, appName, appNamespace string, ref ResourceRef) (*unstructured.Unstructured, error) {
	url := buildURL(inst.URL, []string{"api", "v1", "applications", appName, "resource"}, [][2]string{
		{"namespace", ref.Namespace},
		{"resourceName", ref.Name},
		{"version", ref.Version},
		{"group", ref.Group},
		{"kind", ref.Kind},
		{"appNamespace", appNamespace},
	})
	var res resourceResponse
	if err := s.get(ctx, inst, "resource", url, &res); err != nil {
		return nil, err
	}
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON([]byte(res.Manifest)); err != nil {
		return nil, apierr.RequestFailedCause(err, "Failed to decode manifest of %s/%s: %v", ref.Kind, ref.Name, err)
	}
	return obj, nil
}

// LiveResource returns the live manifest of one resource of an application.
func (s *Service) LiveResource(ctx context.Context, instanceName, appName, appNamespace string, ref ResourceRef) (*unstructured.Unstructured, error) {
	msg := fmt.Sprintf("Failed to fetch %s '%s' from Instance '%s'%s", ref.Kind, ref.Name,
		instanceName, describeParams([][2]string{{"appName", appName}, {"appNamespace", appNamespace}}))
	inst, err := s.instance(instanceName)
	if err != nil {
		return nil, apierr.Wrap(err, msg)
	}
	obj, err := s.liveManifest(ctx, inst, appName, appNamespace, ref)
	if err != nil {
		return nil, apierr.Wrap(err, msg)
	}
	return obj, nil
}
