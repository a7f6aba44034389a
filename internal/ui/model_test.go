package ui

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/config"
	"github.com/phin3has/argolens/internal/lifecycle"
	"github.com/phin3has/argolens/internal/rollout"
)

type fakeLoader struct {
	snap  lifecycle.Snapshot
	calls int
}

func (f *fakeLoader) Load(ctx context.Context, opts argocd.ListOptions) lifecycle.Snapshot {
	f.calls++
	return f.snap
}

type fakeArgo struct {
	listCalls [][]string
	infos     map[string]argocd.RevisionInfo
	tree      argocd.ResourceTree
	manifests map[string]*unstructured.Unstructured
	err       error
}

func (f *fakeArgo) ResourceTree(ctx context.Context, instanceName, appName, appNamespace string) (*argocd.ResourceTree, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.tree, nil
}

func (f *fakeArgo) LiveResource(ctx context.Context, instanceName, appName, appNamespace string, ref argocd.ResourceRef) (*unstructured.Unstructured, error) {
	obj, ok := f.manifests[ref.Kind+"/"+ref.Name]
	if !ok {
		return nil, errors.New("ArgoCD resource not found")
	}
	return obj, nil
}

func (f *fakeArgo) GetRevisionDetails(ctx context.Context, instanceName, appName, revisionID string, opts argocd.RevisionOptions) (*argocd.RevisionInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := f.infos[revisionID]
	info.RevisionID = revisionID
	return &info, nil
}

func (f *fakeArgo) GetRevisionDetailsList(ctx context.Context, instanceName, appName string, revisionIDs []string, opts argocd.RevisionOptions) ([]argocd.RevisionInfo, error) {
	f.listCalls = append(f.listCalls, revisionIDs)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]argocd.RevisionInfo, 0, len(revisionIDs))
	for _, id := range revisionIDs {
		info := f.infos[id]
		info.RevisionID = id
		out = append(out, info)
	}
	return out, nil
}

func newApp(instance, name, sync, health string) lifecycle.AppLifecycle {
	var a argocd.Application
	a.Metadata.Name = name
	a.Metadata.Namespace = "argocd"
	a.Metadata.Instance = &argocd.InstanceRef{Name: instance}
	a.Status.Sync.Status = sync
	a.Status.Health.Status = health
	return lifecycle.AppLifecycle{Application: a}
}

func names(apps []lifecycle.AppLifecycle) []string {
	got := make([]string, 0, len(apps))
	for _, a := range apps {
		got = append(got, a.Application.Name())
	}
	return got
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_applyFilter_driftAndQuery(t *testing.T) {
	tests := []struct {
		name      string
		appsAll   []lifecycle.AppLifecycle
		query     string
		driftOnly bool
		wantNames []string
	}{
		{
			name:      "no filters",
			appsAll:   []lifecycle.AppLifecycle{newApp("prod", "a", "Synced", ""), newApp("prod", "b", "OutOfSync", "")},
			wantNames: []string{"a", "b"},
		},
		{
			name:      "drift only hides synced",
			appsAll:   []lifecycle.AppLifecycle{newApp("prod", "a", "Synced", ""), newApp("prod", "b", "OutOfSync", ""), newApp("prod", "c", "", "")},
			driftOnly: true,
			wantNames: []string{"b", "c"},
		},
		{
			name:    "query filter matches substring case-insensitive",
			appsAll: []lifecycle.AppLifecycle{newApp("prod", "frontend", "Synced", ""), newApp("prod", "backend", "OutOfSync", "")},
			query:   "END",
			// Default sort is by name.
			wantNames: []string{"backend", "frontend"},
		},
		{
			name:      "query matches instance name",
			appsAll:   []lifecycle.AppLifecycle{newApp("prod", "api", "Synced", ""), newApp("staging", "web", "Synced", "")},
			query:     "stag",
			wantNames: []string{"web"},
		},
		{
			name:      "query + drift only",
			appsAll:   []lifecycle.AppLifecycle{newApp("prod", "frontend", "Synced", ""), newApp("prod", "backend", "OutOfSync", ""), newApp("prod", "worker", "OutOfSync", "")},
			query:     "end",
			driftOnly: true,
			wantNames: []string{"backend"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})
			m.appsAll = tt.appsAll
			m.driftOnly = tt.driftOnly
			m.filterInput.SetValue(tt.query)

			m.applyFilter(false)

			if got := names(m.apps); !reflect.DeepEqual(got, tt.wantNames) {
				t.Fatalf("names mismatch\n got: %v\nwant: %v", got, tt.wantNames)
			}
		})
	}
}

func TestModel_sortByHealth(t *testing.T) {
	m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})
	m.appsAll = []lifecycle.AppLifecycle{
		newApp("prod", "a", "Synced", "Healthy"),
		newApp("prod", "b", "Synced", "Degraded"),
		newApp("prod", "c", "Synced", "Progressing"),
	}
	m.sortMode = sortByHealth
	m.applyFilter(false)

	want := []string{"b", "c", "a"}
	if got := names(m.apps); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestModel_initLoadsSnapshot(t *testing.T) {
	fl := &fakeLoader{snap: lifecycle.Snapshot{
		Apps:      []lifecycle.AppLifecycle{newApp("prod", "payments-api", "Synced", "Healthy")},
		FetchedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}}
	m := NewModel(config.Default(), fl, nil, Options{})

	msg := m.loadCmd(m.generation)()
	updated, _ := m.Update(msg)
	m = updated.(Model)

	if fl.calls != 1 {
		t.Fatalf("expected 1 load, got %d", fl.calls)
	}
	if m.loading {
		t.Fatalf("expected loading=false after the current generation landed")
	}
	if got := names(m.apps); !reflect.DeepEqual(got, []string{"payments-api"}) {
		t.Fatalf("unexpected apps %v", got)
	}
	if m.statusLine != "loaded 1 apps" {
		t.Fatalf("unexpected status %q", m.statusLine)
	}
}

func TestModel_staleSnapshotIgnored(t *testing.T) {
	m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})

	fresh := lifecycleMsg{gen: 3, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{newApp("prod", "fresh", "Synced", "")}}}
	stale := lifecycleMsg{gen: 2, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{newApp("prod", "stale", "Synced", "")}}}
	m.generation = 3

	updated, _ := m.Update(fresh)
	m = updated.(Model)
	updated, _ = m.Update(stale)
	m = updated.(Model)

	if got := names(m.apps); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Fatalf("stale snapshot overwrote fresher state: %v", got)
	}
	if m.applied != 3 {
		t.Fatalf("expected applied=3, got %d", m.applied)
	}
}

func TestModel_tickStartsNewGeneration(t *testing.T) {
	fl := &fakeLoader{}
	m := NewModel(config.Default(), fl, nil, Options{})
	before := m.generation

	updated, cmd := m.Update(tickMsg(time.Now()))
	m = updated.(Model)
	if cmd == nil {
		t.Fatalf("expected a cmd from tick")
	}
	if m.generation != before+1 {
		t.Fatalf("expected generation %d, got %d", before+1, m.generation)
	}
	if !m.loading {
		t.Fatalf("expected loading=true while a poll is in flight")
	}

	// An older in-flight poll landing first is still newer than what is shown.
	updated, _ = m.Update(lifecycleMsg{gen: before, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{newApp("prod", "a", "Synced", "")}}})
	m = updated.(Model)
	if len(m.apps) != 1 || !m.loading {
		t.Fatalf("expected older poll applied with newer still pending, apps=%d loading=%v", len(m.apps), m.loading)
	}
}

func TestModel_noPollWhenIntervalDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.UI.PollInterval = 0
	m := NewModel(cfg, &fakeLoader{}, nil, Options{})
	if m.tickCmd() != nil {
		t.Fatalf("expected no tick when polling is disabled")
	}
}

func TestModel_selectionFollowsAppAcrossPolls(t *testing.T) {
	m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})
	updated, _ := m.Update(lifecycleMsg{gen: 1, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{
		newApp("prod", "a", "Synced", ""), newApp("prod", "b", "Synced", ""),
	}}})
	m = updated.(Model)
	updated, _ = m.Update(keyPress("j"))
	m = updated.(Model)

	updated, _ = m.Update(lifecycleMsg{gen: 2, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{
		newApp("prod", "0-new", "Synced", ""), newApp("prod", "a", "Synced", ""), newApp("prod", "b", "Synced", ""),
	}}})
	m = updated.(Model)

	if got := m.apps[m.selected].Application.Name(); got != "b" {
		t.Fatalf("expected selection to stay on b, got %s", got)
	}
}

func TestModel_failuresPanel(t *testing.T) {
	m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})
	updated, _ := m.Update(lifecycleMsg{gen: 1, snap: lifecycle.Snapshot{
		Apps: []lifecycle.AppLifecycle{newApp("prod", "a", "Synced", "")},
		Failures: []argocd.InstanceResult{
			{Instance: argocd.Instance{Name: "dr"}, Err: errors.New("Request to https://dr/api/v1/applications failed with 503 Service Unavailable")},
		},
	}})
	m = updated.(Model)
	updated, _ = m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	m = updated.(Model)

	view := m.View()
	if !strings.Contains(view, "Instance failures:") || !strings.Contains(view, "dr: Request to") {
		t.Fatalf("expected failure panel in view:\n%s", view)
	}
	if !strings.Contains(m.statusLine, "1 instances failed") {
		t.Fatalf("unexpected status %q", m.statusLine)
	}
}

func TestModel_renderRollouts(t *testing.T) {
	ro := rollout.Rollout{}
	ro.Name = "payments-api"
	ro.Spec.Strategy.Canary = &rollout.CanaryStrategy{}
	ro.Status.Phase = "Paused"
	ro.Status.StableRS = "6f9c7d"
	ro.Status.CurrentPodHash = "7b8d4f"

	rev := func(hash string, n int64, pct int, phases ...rollout.AnalysisPhase) rollout.Revision {
		r := rollout.Revision{
			Metadata: metav1.ObjectMeta{
				Name:   "payments-api-" + hash,
				Labels: map[string]string{rollout.PodTemplateHashLabel: hash},
			},
			Number:            n,
			Replicas:          2,
			AvailableReplicas: 2,
			Percentage:        pct,
			Rollout:           &ro,
		}
		for _, p := range phases {
			r.AnalysisRuns = append(r.AnalysisRuns, rollout.AnalysisRun{Status: rollout.AnalysisRunStatus{Phase: p}})
		}
		return r
	}

	m := NewModel(config.Default(), &fakeLoader{}, nil, Options{})
	out := m.renderRollouts([]rollout.RolloutUI{{
		Rollout: ro,
		Revisions: []rollout.Revision{
			rev("7b8d4f", 3, 25, rollout.AnalysisRunning),
			rev("6f9c7d", 2, 75, rollout.AnalysisSuccessful),
		},
	}})

	for _, want := range []string{"payments-api  canary  Paused", "payments-api-7b8d4f", "canary", " 25%", "◌", "payments-api-6f9c7d", "stable", " 75%", "✔"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	if got := m.renderRollouts(nil); got != "  (none)" {
		t.Fatalf("unexpected empty rendering %q", got)
	}
}

func TestModel_historyLoadsRevisionMetadata(t *testing.T) {
	fr := &fakeArgo{infos: map[string]argocd.RevisionInfo{
		"8e2d7b1": {Author: "Dana", Message: "Bump base images"},
		"c4f1a9e": {Author: "Dana", Message: "payments: enable idempotency keys\n\nlong body"},
	}}
	app := newApp("prod", "payments-api", "Synced", "Healthy")
	app.Application.Status.History = []argocd.RevisionHistory{
		{ID: 1, Revision: "8e2d7b1"},
		{ID: 2, Revision: "c4f1a9e"},
		{ID: 3, Revision: "8e2d7b1"},
	}

	m := NewModel(config.Default(), &fakeLoader{}, fr, Options{})
	updated, _ := m.Update(lifecycleMsg{gen: 1, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{app}}})
	m = updated.(Model)

	updated, cmd := m.Update(keyPress("h"))
	m = updated.(Model)
	if m.history == nil || cmd == nil {
		t.Fatalf("expected history overlay with a load cmd")
	}
	if got := m.history.selectedRevision(); got != "8e2d7b1" {
		t.Fatalf("expected newest entry first, got %s", got)
	}

	updated, _ = m.Update(cmd())
	m = updated.(Model)

	wantIDs := [][]string{{"8e2d7b1", "c4f1a9e"}}
	if !reflect.DeepEqual(fr.listCalls, wantIDs) {
		t.Fatalf("unexpected revision requests %v", fr.listCalls)
	}
	body := m.history.renderBody()
	if !strings.Contains(body, "payments: enable idempotency keys") || strings.Contains(body, "long body") {
		t.Fatalf("unexpected history body:\n%s", body)
	}

	// enter on the second entry opens its revision details.
	updated, _ = m.Update(keyPress("j"))
	m = updated.(Model)
	updated, cmd = m.Update(keyPress("enter"))
	m = updated.(Model)
	if m.revDetail == nil || m.revDetail.revision != "c4f1a9e" || cmd == nil {
		t.Fatalf("expected revision details for c4f1a9e")
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)
	if !strings.Contains(m.revDetail.renderBody(), "author:    Dana") {
		t.Fatalf("unexpected details:\n%s", m.revDetail.renderBody())
	}

	// esc closes details first, then history.
	updated, _ = m.Update(keyPress("esc"))
	m = updated.(Model)
	if m.revDetail != nil || m.history == nil {
		t.Fatalf("expected details closed and history open")
	}
	updated, _ = m.Update(keyPress("esc"))
	m = updated.(Model)
	if m.history != nil {
		t.Fatalf("expected history closed")
	}
}

func TestModel_revisionDetailsError(t *testing.T) {
	fr := &fakeArgo{err: errors.New("Failed to fetch Revision data from Instance 'prod'")}
	m := NewModel(config.Default(), &fakeLoader{}, fr, Options{})
	app := newApp("prod", "payments-api", "Synced", "")
	app.Application.Status.Sync.Revision = "c4f1a9e"
	updated, _ := m.Update(lifecycleMsg{gen: 1, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{app}}})
	m = updated.(Model)

	updated, cmd := m.Update(keyPress("enter"))
	m = updated.(Model)
	if cmd == nil {
		t.Fatalf("expected a details cmd")
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)
	if !strings.Contains(m.revDetail.renderBody(), "Failed to fetch Revision data") {
		t.Fatalf("expected error in body:\n%s", m.revDetail.renderBody())
	}
}

func TestModel_resourceTreeAndManifest(t *testing.T) {
	fa := &fakeArgo{
		tree: argocd.ResourceTree{Nodes: []argocd.ResourceNode{
			{ResourceRef: argocd.ResourceRef{Group: "argoproj.io", Kind: "Rollout", Namespace: "payments", Name: "payments-api"}, Health: &argocd.HealthStatus{Status: "Progressing"}},
			{ResourceRef: argocd.ResourceRef{Version: "v1", Kind: "Service", Namespace: "payments", Name: "payments-api"}},
		}},
		manifests: map[string]*unstructured.Unstructured{
			"Service/payments-api": {Object: map[string]any{
				"apiVersion": "v1",
				"kind":       "Service",
				"metadata":   map[string]any{"name": "payments-api"},
			}},
		},
	}
	m := NewModel(config.Default(), &fakeLoader{}, fa, Options{})
	updated, _ := m.Update(lifecycleMsg{gen: 1, snap: lifecycle.Snapshot{Apps: []lifecycle.AppLifecycle{newApp("prod", "payments-api", "Synced", "")}}})
	m = updated.(Model)

	updated, cmd := m.Update(keyPress("t"))
	m = updated.(Model)
	if m.resources == nil || cmd == nil {
		t.Fatalf("expected resources overlay with a load cmd")
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)

	body := m.resources.renderBody()
	if !strings.Contains(body, "argoproj.io/Rollout/payments-api (payments) [Progressing]") ||
		!strings.Contains(body, "Service/payments-api (payments) [—]") {
		t.Fatalf("unexpected tree:\n%s", body)
	}

	updated, _ = m.Update(keyPress("j"))
	m = updated.(Model)
	updated, cmd = m.Update(keyPress("enter"))
	m = updated.(Model)
	if cmd == nil || !m.resources.showingManifest() {
		t.Fatalf("expected manifest load for the selected node")
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)
	if body := m.resources.renderBody(); !strings.Contains(body, "kind: Service") {
		t.Fatalf("expected yaml manifest:\n%s", body)
	}

	updated, _ = m.Update(keyPress("t"))
	m = updated.(Model)
	if body := m.resources.renderBody(); !strings.Contains(body, `"kind": "Service"`) {
		t.Fatalf("expected json manifest:\n%s", body)
	}

	// esc goes back to the tree, then closes.
	updated, _ = m.Update(keyPress("esc"))
	m = updated.(Model)
	if m.resources == nil || m.resources.showingManifest() {
		t.Fatalf("expected the tree after esc")
	}
	updated, _ = m.Update(keyPress("esc"))
	m = updated.(Model)
	if m.resources != nil {
		t.Fatalf("expected resources overlay closed")
	}
}
