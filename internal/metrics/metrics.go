// Package metrics tracks tree activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "ranktree"

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	// Fit metrics
	TreesFitted *prometheus.CounterVec // labels: formula
	TreeSplits  prometheus.Histogram
	TreeGroups  prometheus.Histogram

	// Scoring metrics
	TreeAIC     *prometheus.GaugeVec // labels: tree, sample (in, out)
	TreeScores  *prometheus.CounterVec
	ScoreGroups prometheus.Histogram

	// Prediction metrics
	Predictions     *prometheus.CounterVec // labels: type
	PredictedGroups *prometheus.CounterVec // labels: type

	// Store metrics
	TreesSaved   prometheus.Counter
	TreesDeleted prometheus.Counter

	// Bus metrics
	Events      *prometheus.CounterVec // labels: topic
	EventErrors *prometheus.CounterVec // labels: topic

	registry *prometheus.Registry
}

// New creates a metrics instance with every metric registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	groupBuckets := prometheus.ExponentialBuckets(10, 2, 10)

	return &Metrics{
		TreesFitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_fitted_total",
			Help:      "Trees fitted, by formula",
		}, []string{"formula"}),
		TreeSplits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_splits",
			Help:      "Number of splits in fitted trees",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		TreeGroups: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_fit_groups",
			Help:      "Ranking groups used per fit",
			Buckets:   groupBuckets,
		}),

		TreeAIC: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_aic",
			Help:      "Most recent AIC per tree, in sample or on new data",
		}, []string{"tree", "sample"}),
		TreeScores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_scores_total",
			Help:      "Information criterion computations",
		}, []string{"sample"}),
		ScoreGroups: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_score_groups",
			Help:      "Ranking groups scored per computation",
			Buckets:   groupBuckets,
		}),

		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction runs, by prediction type",
		}, []string{"type"}),
		PredictedGroups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_groups_total",
			Help:      "Groups predicted, by prediction type",
		}, []string{"type"}),

		TreesSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_saved_total",
			Help:      "Trees written to storage",
		}),
		TreesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_deleted_total",
			Help:      "Trees removed from storage",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Bus events observed, by topic",
		}, []string{"topic"}),
		EventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Bus events whose payload could not be decoded",
		}, []string{"topic"}),

		registry: reg,
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText writes every metric in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func sample(inSample bool) string {
	if inSample {
		return "in"
	}
	return "out"
}
