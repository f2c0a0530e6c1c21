package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomePublished = "published"
	outcomeFailed    = "failed"
)

var (
	producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_messages_total",
		Help: "Messages handed to the Kafka writer, by topic and outcome (published, failed).",
	}, []string{"topic", "outcome"})

	producerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_producer_publish_duration_seconds",
		Help:    "Time spent in WriteMessages per publish.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"topic"})
)
