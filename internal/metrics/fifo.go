// Package metrics exports acquisition pipeline metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FIFOMetrics contains Prometheus metrics for the acquisition FIFO
type FIFOMetrics struct {
	registry *prometheus.Registry

	blocksTotal       prometheus.Counter
	overflowsTotal    prometheus.Counter
	occupancyGauge    prometheus.Gauge
	scaleGauge        prometheus.Gauge
	iterationDuration prometheus.Histogram
	sourceOpensTotal  *prometheus.CounterVec

	// consumer side
	packetsTotal prometheus.Counter
	gapsTotal    prometheus.Counter
	lostTotal    prometheus.Counter
}

// NewFIFOMetrics creates and registers new FIFO metrics
func NewFIFOMetrics(registry *prometheus.Registry) (*FIFOMetrics, error) {
	m := &FIFOMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FIFOMetrics) initMetrics() {
	m.blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnss_fifo_blocks_enqueued_total",
		Help: "Total number of millisecond blocks enqueued",
	})
	m.overflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnss_fifo_agc_overflows_total",
		Help: "Total number of blocks in which the AGC clipped samples",
	})
	m.occupancyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnss_fifo_occupancy",
		Help: "Number of blocks waiting in the ring",
	})
	m.scaleGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnss_fifo_agc_scale",
		Help: "Current AGC scale in Q12 fixed point",
	})
	m.iterationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gnss_fifo_iteration_duration_seconds",
		Help:    "Time spent scaling and enqueueing one block",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 10), // 50us to ~25ms
	})
	m.sourceOpensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gnss_fifo_source_opens_total",
		Help: "Source open attempts by outcome",
	}, []string{"status"})

	m.packetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnss_fifo_packets_dequeued_total",
		Help: "Total number of blocks dequeued by the monitor",
	})
	m.gapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnss_fifo_sequence_gaps_total",
		Help: "Number of discontinuities seen in the packet sequence",
	})
	m.lostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnss_fifo_sequence_lost_total",
		Help: "Number of milliseconds missing from the packet sequence",
	})
}

// RegisterSourceDrops exports a source's drop counter as
// gnss_fifo_source_dropped_total.
func (m *FIFOMetrics) RegisterSourceDrops(dropped func() uint64) error {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "gnss_fifo_source_dropped_total",
		Help: "Milliseconds discarded by the source before they were read",
	}, func() float64 { return float64(dropped()) })
	return m.registry.Register(c)
}

// RecordBlock records one enqueued block.
func (m *FIFOMetrics) RecordBlock(occupancy int, scale int32, overflow bool, elapsed time.Duration) {
	m.blocksTotal.Inc()
	if overflow {
		m.overflowsTotal.Inc()
	}
	m.occupancyGauge.Set(float64(occupancy))
	m.scaleGauge.Set(float64(scale))
	m.iterationDuration.Observe(elapsed.Seconds())
}

// RecordOpen records one source open attempt.
func (m *FIFOMetrics) RecordOpen(_ int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sourceOpensTotal.WithLabelValues(status).Inc()
}

// RecordPacket records a dequeued packet and the number of milliseconds
// skipped before it.
func (m *FIFOMetrics) RecordPacket(occupancy int, missing uint64) {
	m.packetsTotal.Inc()
	m.occupancyGauge.Set(float64(occupancy))
	if missing > 0 {
		m.gapsTotal.Inc()
		m.lostTotal.Add(float64(missing))
	}
}

// Describe implements the prometheus.Collector interface
func (m *FIFOMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.blocksTotal.Describe(ch)
	m.overflowsTotal.Describe(ch)
	m.occupancyGauge.Describe(ch)
	m.scaleGauge.Describe(ch)
	m.iterationDuration.Describe(ch)
	m.sourceOpensTotal.Describe(ch)
	m.packetsTotal.Describe(ch)
	m.gapsTotal.Describe(ch)
	m.lostTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *FIFOMetrics) Collect(ch chan<- prometheus.Metric) {
	m.blocksTotal.Collect(ch)
	m.overflowsTotal.Collect(ch)
	m.occupancyGauge.Collect(ch)
	m.scaleGauge.Collect(ch)
	m.iterationDuration.Collect(ch)
	m.sourceOpensTotal.Collect(ch)
	m.packetsTotal.Collect(ch)
	m.gapsTotal.Collect(ch)
	m.lostTotal.Collect(ch)
}
