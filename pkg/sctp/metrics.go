package sctp

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the per-association gauges/counters a host process may
// want to scrape. It is entirely optional: an Association with a nil
// *Metrics runs exactly as it would otherwise, just without the
// bookkeeping calls below doing anything observable.
type Metrics struct {
	cwnd           *prometheus.GaugeVec
	ssthresh       *prometheus.GaugeVec
	inflightBytes  *prometheus.GaugeVec
	retransmitted  *prometheus.CounterVec
}

// NewMetrics builds the gauge/counter vectors, labeled by association ID
// so a process driving several associations gets one series per peer.
func NewMetrics() *Metrics {
	return &Metrics{
		cwnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sctp",
			Name:      "congestion_window_bytes",
			Help:      "Current congestion window.",
		}, []string{"association"}),
		ssthresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sctp",
			Name:      "ssthresh_bytes",
			Help:      "Current slow-start threshold.",
		}, []string{"association"}),
		inflightBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sctp",
			Name:      "inflight_bytes",
			Help:      "Bytes sent and not yet acknowledged, cumulatively or by a gap-ack block.",
		}, []string{"association"}),
		retransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sctp",
			Name:      "chunks_retransmitted_total",
			Help:      "PAYLOAD-DATA chunks retransmitted, by association.",
		}, []string{"association"}),
	}
}

// MustRegister registers every collector with reg; call once at process
// startup.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.cwnd, m.ssthresh, m.inflightBytes, m.retransmitted)
}

func (m *Metrics) observe(assocID string, cwnd, ssthresh, inflightBytes uint32) {
	if m == nil {
		return
	}
	m.cwnd.WithLabelValues(assocID).Set(float64(cwnd))
	m.ssthresh.WithLabelValues(assocID).Set(float64(ssthresh))
	m.inflightBytes.WithLabelValues(assocID).Set(float64(inflightBytes))
}

func (m *Metrics) incRetransmit(assocID string) {
	if m == nil {
		return
	}
	m.retransmitted.WithLabelValues(assocID).Inc()
}
