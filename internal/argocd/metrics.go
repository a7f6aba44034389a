package argocd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argolens_argocd_requests_total",
		Help: "Requests issued to Argo CD instances by operation and HTTP status code",
	}, []string{"instance", "operation", "code"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "argolens_argocd_request_duration_seconds",
		Help:    "Latency of requests to Argo CD instances",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
	}, []string{"instance", "operation"})

	logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argolens_argocd_logins_total",
		Help: "Session logins against Argo CD instances by result",
	}, []string{"instance", "result"})

	searchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argolens_search_instance_failures_total",
		Help: "Instances that failed during a multi-instance search",
	}, []string{"instance"})
)
