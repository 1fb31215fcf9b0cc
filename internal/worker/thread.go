// Package worker runs a long-lived loop on a dedicated OS thread and keeps
// per-iteration execution statistics for it.
package worker

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/GoGNSS/internal/logging"
)

// DefaultBudget is the per-iteration time budget of the acquisition loop.
const DefaultBudget = time.Millisecond

// ErrStarted is returned when Start is called twice.
var ErrStarted = errors.New("worker already started")

// Stats summarizes iteration timing.
type Stats struct {
	Iterations uint64        `json:"iterations"`
	Last       time.Duration `json:"last"`
	Max        time.Duration `json:"max"`
	Mean       time.Duration `json:"mean"`
	Overruns   uint64        `json:"overruns"`
	Running    bool          `json:"running"`
}

// Thread owns one goroutine locked to an OS thread.
type Thread struct {
	name   string
	cpu    int
	budget time.Duration
	logger logging.Logger

	mu      sync.Mutex
	started bool
	running bool
	done    chan struct{}
	err     error

	iterStart time.Time
	stats     Stats
	total     time.Duration
}

// Option configures a Thread.
type Option func(*Thread)

// WithCPU pins the thread to a CPU. Negative values leave it unpinned.
func WithCPU(cpu int) Option { return func(t *Thread) { t.cpu = cpu } }

// WithBudget sets the iteration budget used to count overruns.
func WithBudget(d time.Duration) Option { return func(t *Thread) { t.budget = d } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(t *Thread) { t.logger = l } }

// New returns an idle thread.
func New(name string, opts ...Option) *Thread {
	t := &Thread{
		name:   name,
		cpu:    -1,
		budget: DefaultBudget,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	t.logger = t.logger.With(logging.F("subsystem", "worker"), logging.F("thread", name))
	return t
}

// Start runs body on a new goroutine locked to its OS thread.
func (t *Thread) Start(body func() error) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrStarted
	}
	t.started = true
	t.running = true
	t.mu.Unlock()

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if t.cpu >= 0 {
			if err := setAffinity(t.cpu); err != nil {
				t.logger.Warn("cpu pinning failed", logging.F("cpu", t.cpu), logging.F("error", err))
			} else {
				t.logger.Debug("thread pinned", logging.F("cpu", t.cpu))
			}
		}
		t.logger.Debug("thread started")

		err := body()

		t.mu.Lock()
		t.err = err
		t.running = false
		t.mu.Unlock()
		close(t.done)
		t.logger.Debug("thread exited", logging.F("error", err))
	}()
	return nil
}

// Wait blocks until the body returns and yields its error.
func (t *Thread) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Thread) MarkIterationStart() {
	t.mu.Lock()
	t.iterStart = time.Now()
	t.mu.Unlock()
}

func (t *Thread) MarkIterationEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.iterStart.IsZero() {
		return
	}
	d := time.Since(t.iterStart)
	t.iterStart = time.Time{}
	t.record(d)
}

func (t *Thread) record(d time.Duration) {
	t.stats.Iterations++
	t.stats.Last = d
	if d > t.stats.Max {
		t.stats.Max = d
	}
	if t.budget > 0 && d > t.budget {
		t.stats.Overruns++
	}
	t.total += d
	t.stats.Mean = t.total / time.Duration(t.stats.Iterations)
}

// Stats returns a snapshot of the iteration statistics.
func (t *Thread) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Running = t.running
	return s
}
