package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions  *prometheus.GaugeVec
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by verb
	messagesSent     *prometheus.CounterVec // by verb

	// Broadcast metrics
	messagesBroadcast prometheus.Counter
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram

	// Datagram reliability metrics
	retransmissions prometheus.Counter
	retryExhausted  prometheus.Counter
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipk24chat_active_sessions",
				Help: "Current number of active sessions by transport",
			},
			[]string{"transport"},
		),
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsClosed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_sessions_closed_total",
				Help: "Total number of sessions closed",
			},
		),
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipk24chat_messages_received_total",
				Help: "Total number of messages received from clients by verb",
			},
			[]string{"verb"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipk24chat_messages_sent_total",
				Help: "Total number of messages sent to clients by verb",
			},
			[]string{"verb"},
		),
		messagesBroadcast: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_messages_broadcast_total",
				Help: "Total number of messages broadcast (unique messages, not deliveries)",
			},
		),
		broadcastFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ipk24chat_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast message",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		broadcastDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ipk24chat_broadcast_duration_seconds",
				Help:    "Time taken to deliver a broadcast to all channel members",
				Buckets: prometheus.DefBuckets,
			},
		),
		retransmissions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_udp_retransmissions_total",
				Help: "Total number of datagram retransmissions",
			},
		),
		retryExhausted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ipk24chat_udp_retry_exhausted_total",
				Help: "Total number of sends abandoned after the retry budget ran out",
			},
		),
	}
}

// RecordActiveSessions updates the active session count for a transport
func (m *Metrics) RecordActiveSessions(transport string, count int) {
	m.activeSessions.WithLabelValues(transport).Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionClosed increments the session close counter
func (m *Metrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// RecordMessageReceived increments the message received counter for a verb
func (m *Metrics) RecordMessageReceived(verb string) {
	m.messagesReceived.WithLabelValues(verb).Inc()
}

// RecordMessageSent increments the message sent counter for a verb
func (m *Metrics) RecordMessageSent(verb string) {
	m.messagesSent.WithLabelValues(verb).Inc()
}

// RecordBroadcast records one broadcast with its fanout and duration
func (m *Metrics) RecordBroadcast(recipients int, durationSeconds float64) {
	m.messagesBroadcast.Inc()
	m.broadcastFanout.Observe(float64(recipients))
	m.broadcastDuration.Observe(durationSeconds)
}

// RecordRetransmission increments the retransmission counter
func (m *Metrics) RecordRetransmission() {
	m.retransmissions.Inc()
}

// RecordRetryExhausted increments the abandoned-send counter
func (m *Metrics) RecordRetryExhausted() {
	m.retryExhausted.Inc()
}
