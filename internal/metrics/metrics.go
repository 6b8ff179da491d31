// Package metrics defines the Prometheus collectors the stack's
// components report through. All types are safe to leave nil: every
// field is only touched through pointer receivers that the callers
// already guard with a nil check.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interface holds the counters and gauges for one NetworkInterface.
type Interface struct {
	ArpCacheSize        prometheus.Gauge
	ArpRequestsInFlight prometheus.Gauge
	QueuedFrames        prometheus.Counter
	TransmittedFrames   prometheus.Counter
	DroppedFrames       prometheus.Counter
}

// NewInterface registers a fresh set of collectors for a NetworkInterface
// identified by id, under reg.
func NewInterface(reg prometheus.Registerer, id string) *Interface {
	labels := prometheus.Labels{"interface": id}
	m := &Interface{
		ArpCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "minnow",
			Subsystem:   "netif",
			Name:        "arp_cache_size",
			Help:        "Number of resolved entries in the ARP cache.",
			ConstLabels: labels,
		}),
		ArpRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "minnow",
			Subsystem:   "netif",
			Name:        "arp_requests_in_flight",
			Help:        "Number of ARP requests awaiting a reply.",
			ConstLabels: labels,
		}),
		QueuedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "minnow",
			Subsystem:   "netif",
			Name:        "queued_frames_total",
			Help:        "Datagrams queued behind an in-flight ARP resolution.",
			ConstLabels: labels,
		}),
		TransmittedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "minnow",
			Subsystem:   "netif",
			Name:        "transmitted_frames_total",
			Help:        "Ethernet frames successfully handed to the output port.",
			ConstLabels: labels,
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "minnow",
			Subsystem:   "netif",
			Name:        "dropped_frames_total",
			Help:        "Frames dropped: undecodable, misdirected, or behind an expired ARP request.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ArpCacheSize, m.ArpRequestsInFlight, m.QueuedFrames, m.TransmittedFrames, m.DroppedFrames)
	}
	return m
}

// Sender holds the gauges for one TCPSender.
type Sender struct {
	BytesInFlight              prometheus.Gauge
	ConsecutiveRetransmissions prometheus.Gauge
}

// NewSender registers a fresh set of collectors for a TCPSender
// identified by id, under reg.
func NewSender(reg prometheus.Registerer, id string) *Sender {
	labels := prometheus.Labels{"connection": id}
	m := &Sender{
		BytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "minnow",
			Subsystem:   "tcp_sender",
			Name:        "bytes_in_flight",
			Help:        "Sequence numbers currently outstanding, unacknowledged by the peer.",
			ConstLabels: labels,
		}),
		ConsecutiveRetransmissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "minnow",
			Subsystem:   "tcp_sender",
			Name:        "consecutive_retransmissions",
			Help:        "Retransmission timer firings in a row without a new ack.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BytesInFlight, m.ConsecutiveRetransmissions)
	}
	return m
}
