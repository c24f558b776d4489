// Package metrics exposes the transport's Prometheus instrumentation:
// connection count, datagram/ack/nack traffic, retransmits, and split
// reassembly failures, each a call site inside the conn package rather
// than a bolt-on after the fact.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectionsActive is a gauge of currently Connected peers.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raknet",
		Name:      "connections_active",
		Help:      "Number of connections currently in the Connected state.",
	})

	// DatagramsSent counts outbound reliability-layer datagrams.
	DatagramsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "datagrams_sent_total",
		Help:      "Total reliability-layer datagrams sent.",
	})

	// DatagramsReceived counts inbound reliability-layer datagrams,
	// including duplicates later dropped by the receive window.
	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "datagrams_received_total",
		Help:      "Total reliability-layer datagrams received.",
	})

	// AcksSent/NacksSent count flushed acknowledgement datagrams.
	AcksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "acks_sent_total",
		Help:      "Total ACK datagrams sent.",
	})
	NacksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "nacks_sent_total",
		Help:      "Total NACK datagrams sent.",
	})

	// Retransmits counts frames resent, either from a NACK or from the
	// retransmit-table age sweep.
	Retransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "retransmits_total",
		Help:      "Total frames retransmitted.",
	})

	// SplitReassemblyFailures counts split-table Add calls that returned
	// a non-fatal parse error (index out of range or count mismatch).
	SplitReassemblyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "split_reassembly_failures_total",
		Help:      "Total split-fragment frames dropped for a malformed descriptor.",
	})

	// ConnectionsClosed counts connection teardowns, labeled by the
	// wire.Kind that caused them (or "clean" for a graceful close).
	ConnectionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raknet",
		Name:      "connections_closed_total",
		Help:      "Total connections closed, labeled by cause.",
	}, []string{"reason"})
)

// Registry bundles every collector above for a single Register call.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ConnectionsActive,
		DatagramsSent,
		DatagramsReceived,
		AcksSent,
		NacksSent,
		Retransmits,
		SplitReassemblyFailures,
		ConnectionsClosed,
	)
}
