package argocd

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phin3has/argolens/internal/apierr"
	"github.com/phin3has/argolens/internal/rollout"
)

func TestFindApplications_PartialFailure(t *testing.T) {
	_, good := newMockInstance(t, "prod")
	broken, bad := newMockInstance(t, "staging")
	broken.FailWith("/applications", http.StatusInternalServerError)

	svc := newService([]Instance{bad, good}, NewMemoryTokenStore())
	res := svc.FindApplications(context.Background(), ListOptions{})

	require.Len(t, res.Results, 2)
	assert.Equal(t, "staging", res.Results[0].Instance.Name)
	assert.Equal(t, "prod", res.Results[1].Instance.Name)

	apps := res.Applications()
	require.Len(t, apps, 4)
	for _, a := range apps {
		assert.Equal(t, "prod", a.InstanceName())
	}

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "staging", failures[0].Instance.Name)
	assert.ErrorIs(t, failures[0].Err, apierr.ErrRequestFailed)
	assert.Contains(t, failures[0].Err.Error(), "Failed to retrieve ArgoCD Applications from Instance 'staging'")
}

func TestFindApplications_SelectorAcrossInstances(t *testing.T) {
	_, a := newMockInstance(t, "a")
	_, b := newMockInstance(t, "b")
	svc := newService([]Instance{a, b}, NewMemoryTokenStore())

	res := svc.FindApplications(context.Background(), ListOptions{Selector: "team=payments"})
	assert.Empty(t, res.Failures())
	apps := res.Applications()
	require.Len(t, apps, 2)
	assert.Equal(t, "a", apps[0].InstanceName())
	assert.Equal(t, "b", apps[1].InstanceName())
	assert.Equal(t, "payments-api", apps[1].Name())
}

func TestFindApplicationByName_NotFoundIsNotFailure(t *testing.T) {
	_, a := newMockInstance(t, "a")
	other, b := newMockInstance(t, "b")
	other.SetApplications(nil)

	svc := newService([]Instance{a, b}, NewMemoryTokenStore())
	res := svc.FindApplicationByName(context.Background(), "payments-api", GetOptions{})
	assert.Empty(t, res.Failures())
	apps := res.Applications()
	require.Len(t, apps, 1)
	assert.Equal(t, "a", apps[0].InstanceName())
}

func TestApplicationResources_FeedReconciler(t *testing.T) {
	_, inst := newMockInstance(t, "main")
	svc := newService([]Instance{inst}, NewMemoryTokenStore())

	objs, err := svc.ApplicationResources(context.Background(), "main", "payments-api", "argocd")
	require.NoError(t, err)
	require.Len(t, objs, 6)

	uis := rollout.GetRolloutUIResources(objs, "payments-api")
	require.Len(t, uis, 1)
	revs := uis[0].Revisions
	require.Len(t, revs, 3)
	assert.True(t, revs[0].IsCanary())
	assert.Equal(t, 25, revs[0].Percentage)
	require.Len(t, revs[0].AnalysisRuns, 1)
	assert.Equal(t, rollout.AnalysisRunning, revs[0].AnalysisRuns[0].Status.Phase)
	assert.True(t, revs[1].IsStable())
	assert.Equal(t, 75, revs[1].Percentage)

	none, err := svc.ApplicationResources(context.Background(), "main", "orders-worker", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApplicationResources_MissingApp(t *testing.T) {
	_, inst := newMockInstance(t, "main")
	svc := newService([]Instance{inst}, NewMemoryTokenStore())

	_, err := svc.ApplicationResources(context.Background(), "main", "ghost", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Contains(t, err.Error(), "Failed to fetch resource tree from Instance 'main' with appName 'ghost'")
}

func TestLiveResource(t *testing.T) {
	_, inst := newMockInstance(t, "main")
	svc := newService([]Instance{inst}, NewMemoryTokenStore())

	obj, err := svc.LiveResource(context.Background(), "main", "payments-api", "argocd",
		ResourceRef{Group: "argoproj.io", Version: "v1alpha1", Kind: "Rollout", Namespace: "payments", Name: "payments-api"})
	require.NoError(t, err)
	assert.Equal(t, "Rollout", obj.GetKind())
	assert.Equal(t, "ro-payments-api", string(obj.GetUID()))

	_, err = svc.LiveResource(context.Background(), "main", "payments-api", "",
		ResourceRef{Version: "v1", Kind: "Service", Namespace: "payments", Name: "payments-api"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Contains(t, err.Error(), "Failed to fetch Service 'payments-api' from Instance 'main' with appName 'payments-api' : ")
}
