// Package metrics exposes pipeline counters and histograms on a private
// Prometheus registry. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetpipe"

// Stage outcomes recorded by StageFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDeferred  = "deferred"
	OutcomeSkipped   = "skipped"
)

// Collector holds every metric the orchestrator updates.
type Collector struct {
	registry *prometheus.Registry

	stageOutcomes *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	itemCost      prometheus.Counter
	batchProgress *prometheus.GaugeVec
	batchItems    *prometheus.CounterVec
}

// New builds a collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Stage executions by stage and outcome",
		}, []string{"stage", "outcome", "kind"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Gateway call retries by stage",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per stage execution",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		}, []string{"stage"}),
		itemCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Accumulated processing cost reported by the gateway",
		}),
		batchProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_progress_percent",
			Help:      "Aggregate progress of a batch run",
		}, []string{"batch_id"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Items finished by batch runs, by final status",
		}, []string{"status"}),
	}

	registry.MustRegister(
		c.stageOutcomes,
		c.stageRetries,
		c.stageDuration,
		c.itemCost,
		c.batchProgress,
		c.batchItems,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry (tests, custom exporters).
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StageFinished records one stage execution.
func (c *Collector) StageFinished(stage, outcome, kind string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.stageOutcomes.WithLabelValues(stage, outcome, kind).Inc()
	if elapsed > 0 {
		c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// StageRetried counts one retry of a gateway call.
func (c *Collector) StageRetried(stage string) {
	if c == nil {
		return
	}
	c.stageRetries.WithLabelValues(stage).Inc()
}

// AddCost accumulates charges.
func (c *Collector) AddCost(amount float64) {
	if c == nil || amount <= 0 {
		return
	}
	c.itemCost.Add(amount)
}

// SetBatchProgress updates the progress gauge of a batch.
func (c *Collector) SetBatchProgress(batchID string, percent float64) {
	if c == nil {
		return
	}
	c.batchProgress.WithLabelValues(batchID).Set(percent)
}

// BatchItemFinished counts an item reaching a terminal status.
func (c *Collector) BatchItemFinished(status string) {
	if c == nil {
		return
	}
	c.batchItems.WithLabelValues(status).Inc()
}
