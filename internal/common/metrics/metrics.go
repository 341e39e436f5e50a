// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evworth_predictions_total",
			Help: "Total number of price predictions served",
		},
	)

	PredictionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evworth_prediction_errors_total",
			Help: "Total number of failed price predictions",
		},
		[]string{"error_code"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "evworth_prediction_duration_seconds",
			Help: "Duration of price prediction requests in seconds",
		},
	)

	SohQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evworth_soh_queries_total",
			Help: "Total number of SOH queries by operation",
		},
		[]string{"operation"},
	)

	SohTrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evworth_soh_training_runs_total",
			Help: "Total number of lazy SOH training attempts by outcome",
		},
		[]string{"outcome"},
	)

	SohTrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "evworth_soh_training_duration_seconds",
			Help: "Duration of SOH model training in seconds",
		},
	)

	ModelReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evworth_model_reloads_total",
			Help: "Total number of price model reloads by outcome",
		},
		[]string{"outcome"},
	)
)
