// Package metrics exposes Prometheus counters for the interview-room
// transport. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interview_room"

type Collector struct {
	registry *prometheus.Registry

	Reconnects         *prometheus.CounterVec
	AuthFailures       *prometheus.CounterVec
	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	DecodeFailures     *prometheus.CounterVec
	UnroutableMessages *prometheus.CounterVec
	AudioChunksDropped prometheus.Counter
	AudioChunksFlushed prometheus.Counter
	HeartbeatRTT       prometheus.Histogram
	OpenConnections    prometheus.Gauge
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Scheduled reconnection attempts",
		}, []string{"room"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Connections rejected for authentication",
		}, []string{"room"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to the socket by command",
		}, []string{"command"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages dispatched from the socket by command",
		}, []string{"command"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound frames that could not be decoded",
		}, []string{"room"}),
		UnroutableMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unroutable_messages_total",
			Help:      "Inbound messages with an unknown type/command pair",
		}, []string{"room"}),
		AudioChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks dropped because the queue was full",
		}),
		AudioChunksFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_flushed_total",
			Help:      "Audio chunks sent in AUDIO_STREAM batches",
		}),
		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_rtt_seconds",
			Help:      "Heartbeat round-trip time",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Rooms with an open socket",
		}),
	}
	registry.MustRegister(
		c.Reconnects,
		c.AuthFailures,
		c.MessagesSent,
		c.MessagesReceived,
		c.DecodeFailures,
		c.UnroutableMessages,
		c.AudioChunksDropped,
		c.AudioChunksFlushed,
		c.HeartbeatRTT,
		c.OpenConnections,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Reconnect(room string) {
	if c == nil {
		return
	}
	c.Reconnects.WithLabelValues(room).Inc()
}

func (c *Collector) AuthFailure(room string) {
	if c == nil {
		return
	}
	c.AuthFailures.WithLabelValues(room).Inc()
}

func (c *Collector) Sent(command string) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(command).Inc()
}

func (c *Collector) Received(command string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(command).Inc()
}

func (c *Collector) DecodeFailure(room string) {
	if c == nil {
		return
	}
	c.DecodeFailures.WithLabelValues(room).Inc()
}

func (c *Collector) Unroutable(room string) {
	if c == nil {
		return
	}
	c.UnroutableMessages.WithLabelValues(room).Inc()
}

func (c *Collector) AudioDropped(n int) {
	if c == nil {
		return
	}
	c.AudioChunksDropped.Add(float64(n))
}

func (c *Collector) AudioFlushed(n int) {
	if c == nil {
		return
	}
	c.AudioChunksFlushed.Add(float64(n))
}

func (c *Collector) ObserveHeartbeat(rtt time.Duration) {
	if c == nil {
		return
	}
	c.HeartbeatRTT.Observe(rtt.Seconds())
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.OpenConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.OpenConnections.Dec()
}
