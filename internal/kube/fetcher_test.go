package kube

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/phin3has/argolens/internal/apierr"
	"github.com/phin3has/argolens/internal/rollout"
)

func obj(apiVersion, kind, ns, name string, extra map[string]any) *unstructured.Unstructured {
	o := map[string]any{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata":   map[string]any{"name": name, "namespace": ns},
	}
	for k, v := range extra {
		o[k] = v
	}
	return &unstructured.Unstructured{Object: o}
}

var listKinds = map[schema.GroupVersionResource]string{
	rollout.RolloutResource:     "RolloutList",
	rollout.ReplicaSetResource:  "ReplicaSetList",
	rollout.AnalysisRunResource: "AnalysisRunList",
}

func TestFetcherResources(t *testing.T) {
	ro := obj("argoproj.io/v1alpha1", "Rollout", "payments", "payments-api", map[string]any{
		"status": map[string]any{"stableRS": "payments-api-abc", "currentPodHash": "payments-api-abc"},
	})
	ro.SetUID("uid-1")
	rs := obj("apps/v1", "ReplicaSet", "payments", "payments-api-abc", map[string]any{
		"status": map[string]any{"availableReplicas": int64(2)},
	})
	rs.SetOwnerReferences([]metav1.OwnerReference{
		{APIVersion: "argoproj.io/v1alpha1", Kind: "Rollout", Name: "payments-api", UID: "uid-1"},
	})
	other := obj("apps/v1", "ReplicaSet", "orders", "orders-xyz", nil)
	run := obj("argoproj.io/v1alpha1", "AnalysisRun", "payments", "payments-api-abc-1", nil)

	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, ro, rs, other, run)
	f := NewFetcher(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := f.Resources(context.Background(), "payments")
	require.NoError(t, err)
	require.Len(t, got, 3)
	kinds := []string{got[0].GetKind(), got[1].GetKind(), got[2].GetKind()}
	assert.Equal(t, []string{"Rollout", "ReplicaSet", "AnalysisRun"}, kinds)

	uis := rollout.GetRolloutUIResources(got, "payments-api")
	require.Len(t, uis, 1)
	require.Len(t, uis[0].Revisions, 1)
	assert.True(t, uis[0].Revisions[0].IsStable())
}

func TestFetcherListError(t *testing.T) {
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds)
	client.PrependReactor("list", "replicasets", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	f := NewFetcher(client, nil)

	_, err := f.Resources(context.Background(), "payments")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrRequestFailed)
	assert.Contains(t, err.Error(), "list replicasets in namespace payments")
}
