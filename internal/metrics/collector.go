package harnessmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "kernwire"
)

// Label names for harness metrics.
const (
	labelOpcode   = "opcode"
	labelKind     = "kind"
	labelProtocol = "protocol"
)

// Exchange kind label values.
const (
	KindAck  = "ack"
	KindDump = "dump"
)

// Protocol label values.
const (
	ProtocolFUSE    = "fuse"
	ProtocolNetlink = "netlink"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Harness Metrics
// -------------------------------------------------------------------------

// Collector holds all conformance-harness Prometheus metrics.
//
// Counters separate the three failure domains the harness distinguishes:
// requests the simulated server actually served, default-error replies it
// had to synthesize because no response was queued, and wire-level
// violations by the kernel under test.
type Collector struct {
	// FUSERequests counts FUSE requests read from the device, per opcode.
	FUSERequests *prometheus.CounterVec

	// FUSEDefaultErrors counts synthesized error replies sent because no
	// response was queued for the opcode.
	FUSEDefaultErrors prometheus.Counter

	// NetlinkExchanges counts completed request/response exchanges per
	// kind (ack or dump).
	NetlinkExchanges *prometheus.CounterVec

	// ProtocolViolations counts malformed or miscorrelated messages from
	// the kernel under test, per protocol.
	ProtocolViolations *prometheus.CounterVec
}

// NewCollector creates a Collector with all harness metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "kernwire_" prefix to avoid collisions with other
// exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FUSERequests,
		c.FUSEDefaultErrors,
		c.NetlinkExchanges,
		c.ProtocolViolations,
	)

	return c
}

// newMetrics constructs the metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		FUSERequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fuse",
				Name:      "requests_total",
				Help:      "Total FUSE requests read from the device, by opcode.",
			},
			[]string{labelOpcode},
		),
		FUSEDefaultErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fuse",
				Name:      "default_errors_total",
				Help:      "Total synthesized error replies sent because no response was queued.",
			},
		),
		NetlinkExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "netlink",
				Name:      "exchanges_total",
				Help:      "Total completed netlink request/response exchanges, by kind.",
			},
			[]string{labelKind},
		),
		ProtocolViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_violations_total",
				Help:      "Total protocol violations observed from the kernel under test, by protocol.",
			},
			[]string{labelProtocol},
		),
	}
}

// -------------------------------------------------------------------------
// Recording Helpers
// -------------------------------------------------------------------------

// IncFUSERequest records one request read from the device.
func (c *Collector) IncFUSERequest(opcode string) {
	c.FUSERequests.WithLabelValues(opcode).Inc()
}

// IncFUSEDefaultError records one synthesized default-error reply.
func (c *Collector) IncFUSEDefaultError() {
	c.FUSEDefaultErrors.Inc()
}

// IncNetlinkExchange records one completed exchange of the given kind.
func (c *Collector) IncNetlinkExchange(kind string) {
	c.IncNetlinkExchangeN(kind, 1)
}

// IncNetlinkExchangeN records n completed exchanges of the given kind.
func (c *Collector) IncNetlinkExchangeN(kind string, n float64) {
	c.NetlinkExchanges.WithLabelValues(kind).Add(n)
}

// IncProtocolViolation records one wire-level violation for the protocol.
func (c *Collector) IncProtocolViolation(protocol string) {
	c.ProtocolViolations.WithLabelValues(protocol).Inc()
}
