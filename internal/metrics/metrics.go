// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the service exports. Construct one per
// process with New and share it by pointer.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsCreated  prometheus.Counter
	RunningSessions  prometheus.Gauge
	TrialsTotal      *prometheus.CounterVec
	ExecutorRequests *prometheus.CounterVec
	BreakerTrips     prometheus.Counter
}

// New builds and registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recommender",
			Name:      "sessions_created_total",
			Help:      "Optimization sessions created.",
		}),
		RunningSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "recommender",
			Name:      "sessions_running",
			Help:      "Sessions currently driven by a worker.",
		}),
		TrialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recommender",
			Name:      "trials_total",
			Help:      "Trials recorded, by outcome.",
		}, []string{"status"}),
		ExecutorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recommender",
			Name:      "executor_requests_total",
			Help:      "Executor apply calls, by result.",
		}, []string{"result"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recommender",
			Name:      "circuit_breaker_trips_total",
			Help:      "Times the executor circuit breaker opened.",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.RunningSessions,
		m.TrialsTotal,
		m.ExecutorRequests,
		m.BreakerTrips,
	)
	return m
}
