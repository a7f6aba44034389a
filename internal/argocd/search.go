package argocd

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/phin3has/argolens/internal/apierr"
)

// InstanceResult is one instance's share of a multi-instance search.
// Exactly one of Applications and Err is meaningful.
type InstanceResult struct {
	Instance     Instance
	Applications []Application
	Err          error
}

// SearchResult holds one InstanceResult per configured instance, in registry order.
type SearchResult struct {
	Results []InstanceResult
}

// Applications flattens every successful instance's applications.
func (r SearchResult) Applications() []Application {
	out := make([]Application, 0)
	for _, ir := range r.Results {
		if ir.Err == nil {
			out = append(out, ir.Applications...)
		}
	}
	return out
}

// Failures returns the instances that failed.
func (r SearchResult) Failures() []InstanceResult {
	var out []InstanceResult
	for _, ir := range r.Results {
		if ir.Err != nil {
			out = append(out, ir)
		}
	}
	return out
}

// FindApplications lists applications on every instance concurrently. A
// failing instance is recorded in its own slot and never affects the others.
func (s *Service) FindApplications(ctx context.Context, opts ListOptions) SearchResult {
	return s.fanOut(ctx, func(ctx context.Context, inst Instance) ([]Application, error) {
		list, err := s.ListApplications(ctx, inst.Name, opts)
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
}

// FindApplicationByName looks appName up on every instance. Instances that do
// not have it are not failures.
func (s *Service) FindApplicationByName(ctx context.Context, appName string, opts GetOptions) SearchResult {
	opts.AppName = appName
	return s.fanOut(ctx, func(ctx context.Context, inst Instance) ([]Application, error) {
		app, err := s.GetApplication(ctx, inst.Name, opts)
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Application{*app}, nil
	})
}

func (s *Service) fanOut(ctx context.Context, fetch func(context.Context, Instance) ([]Application, error)) SearchResult {
	results := make([]InstanceResult, len(s.instances))

	// Plain errgroup.Group: no shared cancellation between instances.
	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for i, inst := range s.instances {
		g.Go(func() error {
			apps, err := fetch(ctx, inst)
			results[i] = InstanceResult{Instance: inst, Applications: apps, Err: err}
			if err != nil {
				searchFailures.WithLabelValues(inst.Name).Inc()
				s.logger.Error("argocd instance search failed", "instance", inst.Name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return SearchResult{Results: results}
}
