package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "onmyway"

var (
	GatewayOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gateway_operations_total", Help: "Gateway operations by outcome"},
		[]string{"op", "outcome"},
	)
	GatewayOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_operation_duration_seconds",
			Help:      "Gateway operation latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	GatewayInflight = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "gateway_inflight_operations", Help: "Gateway operations not yet resolved"})

	ImagePrefetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "image_prefetch_total", Help: "Profile photo prefetches by outcome"},
		[]string{"outcome"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events handed to the publisher"},
		[]string{"kind", "outcome"},
	)

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients", Help: "Connected session event clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
