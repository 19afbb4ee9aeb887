// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "messenger"

type Metrics struct {
	ConnectedClients  prometheus.Gauge
	EventsReceived    *prometheus.CounterVec
	EventErrors       *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	MessagesAppended  prometheus.Counter
	ReceiptsCreated   prometheus.Counter
	SendBufferDropped prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connected_clients",
			Help:      "Live WebSocket connections.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_received_total",
			Help:      "Inbound WebSocket events by name.",
		}, []string{"event"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_event_errors_total",
			Help:      "Inbound WebSocket events answered with message_error.",
		}, []string{"event"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_broadcast_deliveries_total",
			Help:      "Outbound frames queued to connections by event name.",
		}, []string{"event"}),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages durably appended.",
		}),
		ReceiptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_created_total",
			Help:      "Read receipts created, excluding duplicates.",
		}),
		SendBufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_send_buffer_overflows_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectedClients,
			m.EventsReceived,
			m.EventErrors,
			m.Broadcasts,
			m.MessagesAppended,
			m.ReceiptsCreated,
			m.SendBufferDropped,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
