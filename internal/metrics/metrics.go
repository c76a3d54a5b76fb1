package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Brownie44l1/riskscore-api/internal/inference"
)

// Metrics implements inference.Observer.
type Metrics struct {
	Predictions    *prometheus.CounterVec
	PredictedClass *prometheus.CounterVec
	Duration       prometheus.Histogram
	ModelFeatures  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskscore_predictions_total",
				Help: "Prediction requests by outcome",
			},
			[]string{"outcome"},
		),
		PredictedClass: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskscore_predicted_class_total",
				Help: "Successful predictions by predicted class",
			},
			[]string{"class"},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskscore_predict_duration_seconds",
				Help:    "Time spent validating and scoring a request",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
		ModelFeatures: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskscore_model_features",
				Help: "Input width of the loaded model",
			},
		),
	}
}

func (m *Metrics) ObservePredict(outcome string, resp *inference.Response, elapsed time.Duration) {
	m.Predictions.WithLabelValues(outcome).Inc()
	m.Duration.Observe(elapsed.Seconds())
	if resp != nil {
		m.PredictedClass.WithLabelValues(strconv.Itoa(resp.Prediccion)).Inc()
	}
}
