// Package metrics provides Prometheus metrics for the site backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerline"

// Registry is the custom registry all site metrics are registered on, so the
// exposition is not cluttered with default process collectors.
var Registry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry

var (
	SignupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signups_total",
		Help:      "Signups accepted, by funnel.",
	}, []string{"funnel"})

	ReconcileWarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "warnings_total",
		Help:      "Keys skipped or records dropped during reconciliation, by code.",
	}, []string{"code"})

	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "runs_total",
		Help:      "Export runs, by outcome.",
	}, []string{"outcome"})

	ExportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "duration_seconds",
		Help:      "Wall time of a full export run.",
		Buckets:   prometheus.DefBuckets,
	})

	RepairActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repair",
		Name:      "actions_total",
		Help:      "Keyspace repair actions, by outcome.",
	}, []string{"outcome"})

	ChatRepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "replies_total",
		Help:      "Chat replies, by source (llm, faq, default).",
	}, []string{"source"})
)

func init() { //nolint:gochecknoinits // registers the fixed metric set once
	Registry.MustRegister(
		SignupsTotal,
		ReconcileWarningsTotal,
		ExportsTotal,
		ExportDuration,
		RepairActionsTotal,
		ChatRepliesTotal,
	)
}

// ObserveExport records one export run.
func ObserveExport(outcome string, started time.Time) {
	ExportsTotal.WithLabelValues(outcome).Inc()
	ExportDuration.Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
