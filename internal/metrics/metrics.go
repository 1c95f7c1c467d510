// Package metrics provides Prometheus metrics for justircd.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "justirc"
)

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	// Connection metrics
	UsersConnected    prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Disconnects       *prometheus.CounterVec

	// Channel metrics
	ChannelsActive prometheus.Gauge
	ChannelsCreated prometheus.Counter

	// Message routing metrics
	FramesRouted   *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	RouteLatency   prometheus.Histogram

	// Rate limiting and filtering metrics
	RateLimitDenials *prometheus.CounterVec
	IPBansActive     prometheus.Gauge
	IPBansTotal      prometheus.Counter

	// Authentication metrics
	AuthSuccesses prometheus.Counter
	AuthFailures  prometheus.Counter
	AuthLockouts  prometheus.Counter

	// Key rotation metrics
	RekeysPerformed prometheus.Counter

	// File transfer metrics
	TransfersActive   prometheus.Gauge
	TransfersTotal    prometheus.Counter
	TransferBytes     prometheus.Counter
	TransferRejected  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry,
// used by tests to avoid colliding with the process-wide default registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UsersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_connected",
			Help:      "Number of currently connected users",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections accepted",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total disconnections by reason",
		}, []string{"reason"}),

		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Number of channels in the registry, including empty ones",
		}),
		ChannelsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_created_total",
			Help:      "Total channels created",
		}),

		FramesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_routed_total",
			Help:      "Total frames routed by type",
		}, []string{"frame_type"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped by reason",
		}, []string{"reason"}),
		RouteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_latency_seconds",
			Help:      "Histogram of in-process frame routing latency",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		}),

		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Total requests denied by the rate limiter, by kind",
		}, []string{"kind"}),
		IPBansActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ip_bans_active",
			Help:      "Number of currently active IP bans",
		}),
		IPBansTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_bans_total",
			Help:      "Total IP bans issued",
		}),

		AuthSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_successes_total",
			Help:      "Total successful authentications",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total failed authentication attempts",
		}),
		AuthLockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_lockouts_total",
			Help:      "Total accounts locked out after repeated failures",
		}),

		RekeysPerformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rekeys_total",
			Help:      "Total key rotations relayed between clients",
		}),

		TransfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of in-progress file transfers",
		}),
		TransfersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total file transfers completed",
		}),
		TransferBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Total bytes relayed through file transfers",
		}),
		TransferRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_rejected_total",
			Help:      "Total file transfers rejected by reason",
		}, []string{"reason"}),
	}
}

// RecordConnect records a new accepted connection.
func (m *Metrics) RecordConnect() {
	m.UsersConnected.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordDisconnect records a connection closing.
func (m *Metrics) RecordDisconnect(reason string) {
	m.UsersConnected.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordChannelCreated records a new channel coming into existence.
func (m *Metrics) RecordChannelCreated() {
	m.ChannelsCreated.Inc()
}

// SetChannelsActive sets the current count of channels in the registry,
// including channels with no members.
func (m *Metrics) SetChannelsActive(count int) {
	m.ChannelsActive.Set(float64(count))
}

// RecordFrameRouted records a frame successfully delivered to its recipient(s).
func (m *Metrics) RecordFrameRouted(frameType string, latencySeconds float64) {
	m.FramesRouted.WithLabelValues(frameType).Inc()
	m.RouteLatency.Observe(latencySeconds)
}

// RecordFrameDropped records a frame dropped before delivery.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordRateLimitDenial records a request denied by the rate limiter.
func (m *Metrics) RecordRateLimitDenial(kind string) {
	m.RateLimitDenials.WithLabelValues(kind).Inc()
}

// RecordIPBan records a new temporary IP ban being issued.
func (m *Metrics) RecordIPBan() {
	m.IPBansTotal.Inc()
	m.IPBansActive.Inc()
}

// RecordIPBanExpired records an IP ban expiring or being lifted.
func (m *Metrics) RecordIPBanExpired() {
	m.IPBansActive.Dec()
}

// RecordAuthSuccess records a successful login.
func (m *Metrics) RecordAuthSuccess() {
	m.AuthSuccesses.Inc()
}

// RecordAuthFailure records a failed login attempt.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordAuthLockout records an account entering a lockout period.
func (m *Metrics) RecordAuthLockout() {
	m.AuthLockouts.Inc()
}

// RecordRekey records a key rotation frame relayed between two clients.
func (m *Metrics) RecordRekey() {
	m.RekeysPerformed.Inc()
}

// RecordTransferStart records a file transfer beginning.
func (m *Metrics) RecordTransferStart() {
	m.TransfersActive.Inc()
}

// RecordTransferEnd records a file transfer completing, successfully or not.
func (m *Metrics) RecordTransferEnd(bytes int64) {
	m.TransfersActive.Dec()
	m.TransfersTotal.Inc()
	m.TransferBytes.Add(float64(bytes))
}

// RecordTransferRejected records a file transfer rejected before completion.
func (m *Metrics) RecordTransferRejected(reason string) {
	m.TransferRejected.WithLabelValues(reason).Inc()
}
