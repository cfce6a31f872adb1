package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProducerMetrics holds the producer's Prometheus collectors.
type ProducerMetrics struct {
	published       *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
}

// NewProducerMetrics registers producer metrics with reg.
func NewProducerMetrics(reg prometheus.Registerer) *ProducerMetrics {
	factory := promauto.With(reg)
	return &ProducerMetrics{
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_producer_messages_published_total",
				Help: "Total number of Kafka messages published",
			},
			[]string{"topic"},
		),
		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_producer_publish_errors_total",
				Help: "Total number of Kafka publish errors",
			},
			[]string{"topic"},
		),
		publishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_producer_publish_duration_seconds",
				Help:    "Duration of Kafka publish operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}
}
