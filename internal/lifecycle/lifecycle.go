// Package lifecycle joins applications found across Argo CD instances with
// their reconciled rollouts.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/kube"
	"github.com/phin3has/argolens/internal/rollout"
)

// Finder searches every configured instance.
type Finder interface {
	FindApplications(ctx context.Context, opts argocd.ListOptions) argocd.SearchResult
}

// ResourceSource returns the Rollout, ReplicaSet and AnalysisRun objects of an application.
type ResourceSource interface {
	Resources(ctx context.Context, app argocd.Application) ([]*unstructured.Unstructured, error)
}

// ArgoSource reads live manifests through the Argo CD API of the app's instance.
type ArgoSource struct {
	Service *argocd.Service
}

func (s ArgoSource) Resources(ctx context.Context, app argocd.Application) ([]*unstructured.Unstructured, error) {
	return s.Service.ApplicationResources(ctx, app.InstanceName(), app.Name(), app.Metadata.Namespace)
}

// KubeSource lists objects in the app's destination namespace.
type KubeSource struct {
	Fetcher *kube.Fetcher
}

func (s KubeSource) Resources(ctx context.Context, app argocd.Application) ([]*unstructured.Unstructured, error) {
	return s.Fetcher.Resources(ctx, app.DestinationNamespace())
}

// AppLifecycle is one application and its rollouts. Err is set when the
// resources could not be read; the application is still listed.
type AppLifecycle struct {
	Application argocd.Application  `json:"application"`
	Rollouts    []rollout.RolloutUI `json:"rollouts"`
	Err         error               `json:"-"`
}

type Snapshot struct {
	Apps      []AppLifecycle
	Failures  []argocd.InstanceResult
	FetchedAt time.Time
}

type Loader struct {
	finder      Finder
	source      ResourceSource
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewLoader(finder Finder, source ResourceSource, concurrency int, logger *slog.Logger) *Loader {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{finder: finder, source: source, concurrency: concurrency, logger: logger, now: time.Now}
}

// Load searches all instances and reconciles the rollouts of every
// application found. Instance and per-app failures are reported in the
// snapshot, never returned.
func (l *Loader) Load(ctx context.Context, opts argocd.ListOptions) Snapshot {
	res := l.finder.FindApplications(ctx, opts)
	apps := res.Applications()

	out := make([]AppLifecycle, len(apps))
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, app := range apps {
		g.Go(func() error {
			out[i] = l.appLifecycle(ctx, app)
			return nil
		})
	}
	_ = g.Wait()

	return Snapshot{Apps: out, Failures: res.Failures(), FetchedAt: l.now()}
}

// Rollouts reconciles a single application.
func (l *Loader) Rollouts(ctx context.Context, app argocd.Application) ([]rollout.RolloutUI, error) {
	if l.source == nil {
		return []rollout.RolloutUI{}, nil
	}
	objs, err := l.source.Resources(ctx, app)
	if err != nil {
		return nil, err
	}
	return rollout.GetRolloutUIResources(objs, app.Name()), nil
}

func (l *Loader) appLifecycle(ctx context.Context, app argocd.Application) AppLifecycle {
	rollouts, err := l.Rollouts(ctx, app)
	if err != nil {
		l.logger.Warn("rollout resources unavailable",
			"instance", app.InstanceName(),
			"app", app.Name(),
			"err", err,
		)
		return AppLifecycle{Application: app, Rollouts: []rollout.RolloutUI{}, Err: err}
	}
	return AppLifecycle{Application: app, Rollouts: rollouts}
}
