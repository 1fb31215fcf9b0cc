// Package app holds the consumers that sit downstream of the acquisition
// FIFO.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/fifo"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/telemetry"
)

// Config captures monitor configuration.
type Config struct {
	// ReportEvery is how many packets pass between telemetry samples.
	ReportEvery int
	// SpectrumEvery is how many packets pass between spectra. Zero disables.
	SpectrumEvery int
	SampleRate    float64
	// FullScale is the sample magnitude shown as 0 dBFS.
	FullScale float64
}

// Queue is the consumer side of the FIFO.
type Queue interface {
	Dequeue(ctx context.Context, dst *fifo.Packet) error
	TryDequeue(dst *fifo.Packet) bool
	Len() int
	Cap() int
	Samples() int
}

// StatusSource supplies producer side state for telemetry samples.
type StatusSource interface {
	Status() fifo.Status
}

// PacketRecorder receives per-packet observations.
type PacketRecorder interface {
	RecordPacket(occupancy int, missing uint64)
}

// Stats summarizes what the monitor has consumed.
type Stats struct {
	Packets uint64 `json:"packets"`
	Gaps    uint64 `json:"gaps"`
	Lost    uint64 `json:"lost"`
	Last    uint64 `json:"last"`
}

// Monitor dequeues packets, verifies that their sequence tags are
// contiguous and publishes queue telemetry and periodic spectra.
type Monitor struct {
	queue    Queue
	reporter telemetry.Reporter
	status   StatusSource
	recorder PacketRecorder
	analyzer *dsp.Analyzer
	logger   logging.Logger
	cfg      Config

	mu    sync.Mutex
	stats Stats
	seen  bool
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithStatus attaches the producer status used to enrich samples.
func WithStatus(s StatusSource) MonitorOption { return func(m *Monitor) { m.status = s } }

// WithPacketRecorder attaches a metrics recorder.
func WithPacketRecorder(r PacketRecorder) MonitorOption { return func(m *Monitor) { m.recorder = r } }

// NewMonitor builds a monitor reading from queue.
func NewMonitor(queue Queue, reporter telemetry.Reporter, logger logging.Logger, cfg Config, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 100
	}
	m := &Monitor{
		queue:    queue,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "monitor")),
		cfg:      cfg,
	}
	if cfg.SpectrumEvery > 0 {
		m.analyzer = dsp.NewAnalyzer(queue.Samples(), cfg.SampleRate, cfg.FullScale)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run consumes packets until ctx is canceled, then drains whatever is
// still queued without blocking.
func (m *Monitor) Run(ctx context.Context) error {
	p := fifo.NewPacket(m.queue.Samples())
	for {
		if err := m.queue.Dequeue(ctx, &p); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				m.drain(&p)
				return nil
			}
			return err
		}
		m.handle(&p)
	}
}

func (m *Monitor) drain(p *fifo.Packet) {
	n := 0
	for m.queue.TryDequeue(p) {
		m.handle(p)
		n++
	}
	st := m.Stats()
	m.logger.Info("monitor stopped",
		logging.F("drained", n),
		logging.F("packets", st.Packets),
		logging.F("gaps", st.Gaps),
		logging.F("lost_ms", st.Lost))
}

func (m *Monitor) handle(p *fifo.Packet) {
	missing, ok := m.track(p.Count)
	if !ok {
		m.logger.Error("packet sequence went backwards", logging.F("count", p.Count))
	} else if missing > 0 {
		m.logger.Warn("packet sequence gap", logging.F("count", p.Count), logging.F("missing_ms", missing))
	}
	if m.recorder != nil {
		m.recorder.RecordPacket(m.queue.Len(), missing)
	}

	st := m.Stats()
	if st.Packets%uint64(m.cfg.ReportEvery) == 0 && m.reporter != nil {
		m.reporter.Report(m.sample(p.Count, st))
	}
	if m.analyzer != nil && st.Packets%uint64(m.cfg.SpectrumEvery) == 0 {
		spec, err := m.analyzer.Analyze(p.Data)
		if err != nil {
			m.logger.Warn("spectrum failed", logging.F("error", err))
			return
		}
		spec.Count = p.Count
		if m.reporter != nil {
			m.reporter.ReportSpectrum(spec)
		}
	}
}

// track records count and returns how many tags were skipped before it. ok
// is false when count did not advance.
func (m *Monitor) track(count uint64) (missing uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Packets++
	if m.seen && count <= m.stats.Last {
		m.stats.Gaps++
		return 0, false
	}
	if m.seen && count > m.stats.Last+1 {
		missing = count - m.stats.Last - 1
		m.stats.Gaps++
		m.stats.Lost += missing
	}
	m.seen = true
	m.stats.Last = count
	return missing, true
}

func (m *Monitor) sample(count uint64, st Stats) telemetry.Sample {
	s := telemetry.Sample{
		Timestamp: time.Now(),
		Count:     count,
		Occupancy: m.queue.Len(),
		Depth:     m.queue.Cap(),
		Gaps:      st.Gaps,
		Lost:      st.Lost,
	}
	if m.status != nil {
		ps := m.status.Status()
		s.Scale = ps.Scale
		s.Overflows = ps.Overflows
	}
	return s
}

// Stats returns a snapshot of the consumer counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
