package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trafficsign"

// Metrics exposes training and inference progress. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	Epoch        prometheus.Gauge
	Loss         prometheus.Gauge
	Accuracy     prometheus.Gauge
	TestAccuracy prometheus.Gauge
	Runs         *prometheus.CounterVec
	Predictions  *prometheus.CounterVec
	Skipped      prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_epoch",
			Help:      "Last completed training epoch.",
		}),
		Loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_loss",
			Help:      "Mean training loss of the last completed epoch.",
		}),
		Accuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_accuracy",
			Help:      "Training accuracy of the last completed epoch.",
		}),
		TestAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_accuracy",
			Help:      "Accuracy on the held-out split after the last run.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by outcome.",
		}, []string{"outcome"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Single-image predictions by predicted class.",
		}, []string{"class"}),
		Skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_classes",
			Help:      "Classes skipped by the last dataset load.",
		}),
	}

	m.registry.MustRegister(m.Epoch, m.Loss, m.Accuracy, m.TestAccuracy, m.Runs, m.Predictions, m.Skipped)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEpoch(epoch int, loss, accuracy float64) {
	if m == nil {
		return
	}
	m.Epoch.Set(float64(epoch))
	m.Loss.Set(loss)
	m.Accuracy.Set(accuracy)
}

func (m *Metrics) ObserveSkipped(classes int) {
	if m == nil {
		return
	}
	m.Skipped.Set(float64(classes))
}

// ObserveRun counts a finished run; testAccuracy is ignored on failure.
func (m *Metrics) ObserveRun(err error, testAccuracy float64) {
	if m == nil {
		return
	}
	if err != nil {
		m.Runs.WithLabelValues("failure").Inc()
		return
	}
	m.Runs.WithLabelValues("success").Inc()
	m.TestAccuracy.Set(testAccuracy)
}

func (m *Metrics) ObservePrediction(classID int) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(strconv.Itoa(classID)).Inc()
}
