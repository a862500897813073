// Package metrics exposes trace reading progress as Prometheus metrics.
//
// A Collector is owned by one trace reader (or shared by several, the series are
// labelled by file) and registered by the caller:
//
//	c := metrics.NewCollector("ctfdump")
//	prometheus.MustRegister(c)
//	r, err := trace.Open(dir, trace.WithMetrics(c))
//
// All methods are safe on a nil *Collector, so readers call them unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const fileLabel = "file"

// Collector groups the reader metrics.
type Collector struct {
	events        *prometheus.CounterVec
	packets       *prometheus.CounterVec
	lostEvents    *prometheus.CounterVec
	activeReaders prometheus.Gauge
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates the metrics with the given namespace. An empty namespace
// yields unprefixed names.
func NewCollector(namespace string) *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_events_total",
			Help:      "Count of events read per stream file, lost-event records included.",
		}, []string{fileLabel}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_packets_indexed_total",
			Help:      "Count of packets added to the packet index per stream file.",
		}, []string{fileLabel}),
		lostEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_lost_events_total",
			Help:      "Count of events the tracer reported as discarded per stream file.",
		}, []string{fileLabel}),
		activeReaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trace_active_readers",
			Help:      "Number of stream readers still queued for merging.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.packets.Describe(ch)
	c.lostEvents.Describe(ch)
	c.activeReaders.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.packets.Collect(ch)
	c.lostEvents.Collect(ch)
	c.activeReaders.Collect(ch)
}

// EventRead counts one event read from file.
func (c *Collector) EventRead(file string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(file).Inc()
}

// PacketIndexed counts one indexed packet of file and the events it reports lost.
func (c *Collector) PacketIndexed(file string, lost uint64) {
	if c == nil {
		return
	}
	c.packets.WithLabelValues(file).Inc()
	if lost > 0 {
		c.lostEvents.WithLabelValues(file).Add(float64(lost))
	}
}

// SetActiveReaders records the number of queued stream readers.
func (c *Collector) SetActiveReaders(n int) {
	if c == nil {
		return
	}
	c.activeReaders.Set(float64(n))
}

// Forget removes the series of file, e.g. after its reader was closed.
func (c *Collector) Forget(file string) {
	if c == nil {
		return
	}
	c.events.DeleteLabelValues(file)
	c.packets.DeleteLabelValues(file)
	c.lostEvents.DeleteLabelValues(file)
}
