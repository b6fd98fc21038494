//go:build linux

package sdlink

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics implements Metrics on top of prometheus counters while
// keeping the atomic counters available through the Get accessors.
type PrometheusMetrics struct {
	DefaultMetrics

	connects      prometheus.Counter
	sendDone      prometheus.Counter
	sendFailed    prometheus.Counter
	aborted       prometheus.Counter
	finished      prometheus.Counter
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
}

// NewPrometheusMetrics builds a Metrics implementation registered with the
// given registerer under the given namespace.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_established_total",
			Help:      "Connections that reached the connected state.",
		}),
		sendDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages fully written to the socket.",
		}),
		sendFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_send_failed_total",
			Help:      "Outbound messages that failed or were drained on shutdown.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_aborted_total",
			Help:      "Connections terminated by an unexpected disconnect.",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_finished_total",
			Help:      "Connections terminated gracefully.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to sockets.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes read from sockets.",
		}),
	}

	collectors := []prometheus.Collector{
		m.connects, m.sendDone, m.sendFailed, m.aborted, m.finished,
		m.bytesSent, m.bytesReceived,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) IncrementConnect() {
	m.DefaultMetrics.IncrementConnect()
	m.connects.Inc()
}

func (m *PrometheusMetrics) IncrementSendDone() {
	m.DefaultMetrics.IncrementSendDone()
	m.sendDone.Inc()
}

func (m *PrometheusMetrics) IncrementSendFailed() {
	m.DefaultMetrics.IncrementSendFailed()
	m.sendFailed.Inc()
}

func (m *PrometheusMetrics) IncrementAborted() {
	m.DefaultMetrics.IncrementAborted()
	m.aborted.Inc()
}

func (m *PrometheusMetrics) IncrementFinished() {
	m.DefaultMetrics.IncrementFinished()
	m.finished.Inc()
}

func (m *PrometheusMetrics) IncrementBytesSent(n int64) {
	m.DefaultMetrics.IncrementBytesSent(n)
	m.bytesSent.Add(float64(n))
}

func (m *PrometheusMetrics) IncrementBytesReceived(n int64) {
	m.DefaultMetrics.IncrementBytesReceived(n)
	m.bytesReceived.Add(float64(n))
}
