package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoGNSS/internal/agc"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/runstate"
	"github.com/rjboer/GoGNSS/internal/sdr"
	"github.com/rjboer/GoGNSS/internal/worker"
)

// State is the importer lifecycle position.
type State int32

const (
	Idle State = iota
	Opening
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Run is entered a second time.
var ErrAlreadyStarted = errors.New("importer already started")

// Recorder receives per-block observations, typically for metrics export.
type Recorder interface {
	RecordBlock(occupancy int, scale int32, overflow bool, elapsed time.Duration)
	RecordOpen(attempt int, err error)
}

// ImporterConfig holds the acquisition loop parameters.
type ImporterConfig struct {
	AGCBits      int
	Scale        int32
	ChunkSize    int
	IdleBackoff  time.Duration
	OpenAttempts int
	// OpenInterval is the first retry delay after a failed open.
	OpenInterval time.Duration
	CPU          int
	Verbose      bool
}

// DefaultImporterConfig returns the stock acquisition settings.
func DefaultImporterConfig() ImporterConfig {
	return ImporterConfig{
		AGCBits:      5,
		Scale:        agc.DefaultScale,
		ChunkSize:    ReadChunk,
		IdleBackoff:  time.Millisecond,
		OpenAttempts: 5,
		OpenInterval: 250 * time.Millisecond,
		CPU:          -1,
	}
}

// Status is a point in time view of the importer. Dropped counts milliseconds
// the source discarded before they were read.
type Status struct {
	State        string       `json:"state"`
	Source       string       `json:"source"`
	Count        uint64       `json:"count"`
	Occupancy    int          `json:"occupancy"`
	Depth        int          `json:"depth"`
	Scale        int32        `json:"scale"`
	Overflows    uint64       `json:"overflows"`
	LastOverflow bool         `json:"last_overflow"`
	Dropped      uint64       `json:"source_dropped"`
	Read         ReadStats    `json:"read"`
	Thread       worker.Stats `json:"thread"`
}

// Importer is the producer side of the FIFO. It reads one millisecond from
// the source per iteration, scales it and enqueues it.
type Importer struct {
	cfg      ImporterConfig
	fifo     *FIFO
	opener   sdr.Opener
	norm     agc.Normalizer
	run      *runstate.Flag
	thread   *worker.Thread
	logger   logging.Logger
	recorder Recorder

	state        atomic.Int32
	count        atomic.Uint64
	scale        atomic.Int32
	scaleSet     atomic.Bool
	overflows    atomic.Uint64
	lastOverflow atomic.Bool
	reader       atomic.Pointer[BlockReader]
}

// ImporterOption customizes an Importer.
type ImporterOption func(*Importer)

// WithNormalizer replaces the default agc.Fixed normalizer.
func WithNormalizer(n agc.Normalizer) ImporterOption { return func(im *Importer) { im.norm = n } }

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) ImporterOption { return func(im *Importer) { im.recorder = r } }

// WithImporterLogger sets the logger.
func WithImporterLogger(l logging.Logger) ImporterOption {
	return func(im *Importer) { im.logger = l }
}

func NewImporter(f *FIFO, opener sdr.Opener, run *runstate.Flag, cfg ImporterConfig, opts ...ImporterOption) *Importer {
	im := &Importer{
		cfg:    cfg,
		fifo:   f,
		opener: opener,
		norm:   agc.Fixed{},
		run:    run,
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.logger == nil {
		im.logger = logging.Default()
	}
	im.logger = im.logger.With(logging.F("subsystem", "importer"))
	im.thread = worker.New("importer", worker.WithCPU(cfg.CPU), worker.WithLogger(im.logger))
	if cfg.Scale == 0 {
		cfg.Scale = agc.DefaultScale
	}
	im.scale.Store(cfg.Scale)
	return im
}

// lifecycle logs at Info when verbose output is requested.
func (im *Importer) lifecycle(msg string, fields ...logging.Field) {
	if im.cfg.Verbose {
		im.logger.Info(msg, fields...)
		return
	}
	im.logger.Debug(msg, fields...)
}

// Start runs the acquisition loop on its own OS thread.
func (im *Importer) Start(ctx context.Context) error {
	im.lifecycle("starting importer thread", logging.F("cpu", im.cfg.CPU))
	return im.thread.Start(func() error { return im.Run(ctx) })
}

// Wait blocks until a started loop exits.
func (im *Importer) Wait() error { return im.thread.Wait() }

// SetScale overrides the gain scale. Safe to call while running. An override
// made before the calibration block is read survives calibration.
func (im *Importer) SetScale(v int32) {
	im.scaleSet.Store(true)
	im.scale.Store(v)
	im.logger.Info("gain scale overridden", logging.F("scale", v))
}

// Scale returns the current gain scale.
func (im *Importer) Scale() int32 { return im.scale.Load() }

// State returns the lifecycle state.
func (im *Importer) State() State { return State(im.state.Load()) }

// Count returns how many milliseconds have been read, calibration included.
func (im *Importer) Count() uint64 { return im.count.Load() }

func (im *Importer) Status() Status {
	st := Status{
		State:        im.State().String(),
		Source:       im.opener.String(),
		Count:        im.count.Load(),
		Occupancy:    im.fifo.Len(),
		Depth:        im.fifo.Cap(),
		Scale:        im.scale.Load(),
		Overflows:    im.overflows.Load(),
		LastOverflow: im.lastOverflow.Load(),
		Thread:       im.thread.Stats(),
	}
	if r := im.reader.Load(); r != nil {
		st.Read = r.Stats()
	}
	if d, ok := im.opener.(sdr.DropCounter); ok {
		st.Dropped = d.Dropped()
	}
	return st
}

// Run opens the source and loops until the run flag is cleared. The first
// block only seeds the gain scale and is never enqueued. ctx bounds the open
// and any wait on a full ring.
func (im *Importer) Run(ctx context.Context) error {
	if !im.state.CompareAndSwap(int32(Idle), int32(Opening)) {
		return ErrAlreadyStarted
	}
	defer func() {
		im.state.Store(int32(Stopped))
		im.lifecycle("importer stopped", logging.F("count", im.count.Load()))
	}()

	src, err := im.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		src.Close()
		im.lifecycle("source closed", logging.F("source", im.opener.String()))
	}()
	im.state.Store(int32(Running))

	samples := im.fifo.Samples()
	raw := make([]byte, samples*sdr.CPXSize)
	block := make([]sdr.CPX, samples)

	reader := NewBlockReader(src, im.run, im.logger)
	reader.ChunkSize = im.cfg.ChunkSize
	reader.IdleBackoff = im.cfg.IdleBackoff
	im.reader.Store(reader)

	for im.run.Running() {
		if !reader.ReadBlock(raw) {
			break
		}

		im.thread.MarkIterationStart()
		start := time.Now()
		if err := sdr.DecodeIQ(block, raw); err != nil {
			return fmt.Errorf("decode block: %w", err)
		}

		count := im.count.Load()
		if count == 0 {
			prev := im.scale.Load()
			s := im.norm.Init(block, im.cfg.AGCBits)
			if !im.scaleSet.Load() && im.scale.CompareAndSwap(prev, s) {
				im.lifecycle("gain calibrated", logging.F("scale", s))
			} else {
				im.lifecycle("gain calibration kept override", logging.F("scale", im.scale.Load()))
			}
		} else {
			prev := im.scale.Load()
			s := prev
			overflow := im.norm.Apply(block, im.cfg.AGCBits, &s)
			// a concurrent SetScale wins over the loop's own update
			im.scale.CompareAndSwap(prev, s)
			im.noteOverflow(count, overflow)

			if err := im.fifo.Enqueue(ctx, count, block); err != nil {
				im.thread.MarkIterationEnd()
				return fmt.Errorf("enqueue block %d: %w", count, err)
			}
			if im.recorder != nil {
				im.recorder.RecordBlock(im.fifo.Len(), im.scale.Load(), overflow, time.Since(start))
			}
		}
		im.thread.MarkIterationEnd()
		im.count.Add(1)
	}
	return nil
}

func (im *Importer) noteOverflow(count uint64, overflow bool) {
	was := im.lastOverflow.Swap(overflow)
	if !overflow {
		if was {
			im.logger.Debug("agc clipping cleared", logging.F("count", count))
		}
		return
	}
	im.overflows.Add(1)
	if !was {
		im.logger.Warn("agc clipping", logging.F("count", count), logging.F("scale", im.scale.Load()))
	}
}

// open acquires the source with exponential backoff. It gives up after
// OpenAttempts tries, when ctx ends, or when the run flag is cleared. The
// context handed to Open is canceled on return; it bounds the attempt only.
func (im *Importer) open(ctx context.Context) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-im.run.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	attempts := max(im.cfg.OpenAttempts, 1)
	eb := backoff.NewExponentialBackOff()
	if im.cfg.OpenInterval > 0 {
		eb.InitialInterval = im.cfg.OpenInterval
	}
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var (
		src     io.ReadCloser
		attempt int
	)
	im.lifecycle("opening source", logging.F("source", im.opener.String()))
	err := backoff.RetryNotify(func() error {
		attempt++
		rc, err := im.opener.Open(ctx)
		if im.recorder != nil {
			im.recorder.RecordOpen(attempt, err)
		}
		if err != nil {
			return err
		}
		src = rc
		return nil
	}, policy, func(err error, next time.Duration) {
		im.logger.Warn("open source failed, retrying",
			logging.F("source", im.opener.String()),
			logging.F("attempt", attempt),
			logging.F("retry_in", next),
			logging.F("error", err))
	})
	if err != nil {
		if !im.run.Running() {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("open %s after %d attempts: %w", im.opener, attempt, err)
	}
	if !im.run.Running() {
		src.Close()
		return nil, ErrStopped
	}
	im.lifecycle("source opened", logging.F("source", im.opener.String()), logging.F("attempts", attempt))
	return src, nil
}
