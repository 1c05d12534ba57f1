package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	trainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taiga_model_train_total",
			Help: "Number of model training requests, by outcome.",
		},
		[]string{"status"},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taiga_model_predictions_total",
			Help: "Number of prediction requests, by endpoint and outcome.",
		},
		[]string{"endpoint", "status"},
	)

	predictDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taiga_model_predict_duration_seconds",
			Help:    "Latency of prediction requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	modelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taiga_models_active",
			Help: "Number of models currently registered.",
		},
	)
)

func init() {
	prometheus.MustRegister(trainsTotal, predictionsTotal, predictDuration, modelsActive)
}
