// Package metrics exposes allocation activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aidledger"

// Metrics holds the collectors updated by the event worker.
type Metrics struct {
	GrantsCreated      *prometheus.CounterVec
	GrantAmount        *prometheus.HistogramVec
	GrantStatusChanges *prometheus.CounterVec
	GrantsVoided       *prometheus.CounterVec
	ArchiveEvents      *prometheus.CounterVec
	PoolEntries        *prometheus.CounterVec
	PoolAmount         *prometheus.CounterVec
	FlaggedRecipients  *prometheus.GaugeVec
	PendingArchives    prometheus.Gauge
	EventsHandled      *prometheus.CounterVec
	RefreshErrors      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		GrantsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "grants_created_total", Help: "Grants created by kind",
		}, []string{"kind"}),
		GrantAmount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "grant_amount_cents", Help: "Amount of created grants in cents",
			Buckets: []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000},
		}, []string{"kind"}),
		GrantStatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "grant_status_changes_total", Help: "Grant status transitions by target status",
		}, []string{"kind", "status"}),
		GrantsVoided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "grants_voided_total", Help: "Grants voided by kind",
		}, []string{"kind"}),
		ArchiveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_events_total", Help: "Archive workflow events",
		}, []string{"type"}),
		PoolEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_entries_total", Help: "Pool entry additions and removals",
		}, []string{"op"}),
		PoolAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_amount_cents_total", Help: "Cents added to or removed from pools",
		}, []string{"op"}),
		FlaggedRecipients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "flagged_recipients", Help: "Recipients at monitor or high risk this month",
		}, []string{"level"}),
		PendingArchives: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_archives", Help: "Sponsors awaiting an archive decision",
		}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_handled_total", Help: "Events consumed by the worker",
		}, []string{"type"}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_errors_total", Help: "Failed gauge refreshes",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.GrantsCreated,
		m.GrantAmount,
		m.GrantStatusChanges,
		m.GrantsVoided,
		m.ArchiveEvents,
		m.PoolEntries,
		m.PoolAmount,
		m.FlaggedRecipients,
		m.PendingArchives,
		m.EventsHandled,
		m.RefreshErrors,
	)
	return m
}

// Handler serves the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
