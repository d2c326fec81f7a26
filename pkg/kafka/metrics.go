package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

type publishMetrics struct {
	published *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newPublishMetrics(reg prometheus.Registerer) *publishMetrics {
	f := promauto.With(reg)
	return &publishMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events handed to Kafka, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auth",
			Subsystem: "events",
			Name:      "publish_duration_seconds",
			Help:      "Time spent writing a single event to Kafka.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"topic"}),
	}
}

var defaultMetrics = newPublishMetrics(prometheus.DefaultRegisterer)
