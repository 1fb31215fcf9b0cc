// Package fifo moves one millisecond IF blocks from the capture front end to
// correlator consumers through a bounded ring guarded by two counting
// semaphores.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

const (
	// SamplesPerMs is the block length at the front end's 2.048 MHz rate.
	SamplesPerMs = 2048
	// Depth is the default ring capacity in milliseconds.
	Depth = 1000
)

var (
	// ErrBlockSize is returned when an enqueued block has the wrong length.
	ErrBlockSize = errors.New("block length does not match fifo samples")
	// ErrStopped is returned by the importer when the run flag is cleared
	// before the source could be opened.
	ErrStopped = errors.New("acquisition stopped")
)

// Packet is one millisecond of samples tagged with the millisecond index it
// was produced at.
type Packet struct {
	Count uint64
	Data  []sdr.CPX
}

// NewPacket allocates a packet able to hold samples samples.
func NewPacket(samples int) Packet {
	return Packet{Data: make([]sdr.CPX, samples)}
}

// FIFO is a bounded single producer queue of Packets. Dequeue may be called
// from any number of goroutines; each call receives a distinct packet.
type FIFO struct {
	depth   int
	samples int
	ring    *ring

	empty  *semaphore.Weighted
	filled *semaphore.Weighted

	headMu sync.Mutex
	tailMu sync.Mutex

	occupancy atomic.Int64
	logger    logging.Logger
}

// New allocates every node up front. Nothing is allocated after this.
func New(depth, samples int, logger logging.Logger) (*FIFO, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("fifo depth must be positive, got %d", depth)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("fifo samples must be positive, got %d", samples)
	}
	if logger == nil {
		logger = logging.Default()
	}
	f := &FIFO{
		depth:   depth,
		samples: samples,
		ring:    newRing(depth, samples),
		empty:   semaphore.NewWeighted(int64(depth)),
		filled:  semaphore.NewWeighted(int64(depth)),
		logger:  logger.With(logging.F("subsystem", "fifo")),
	}
	// filled starts at zero
	if !f.filled.TryAcquire(int64(depth)) {
		return nil, errors.New("fifo: could not drain filled semaphore")
	}
	f.logger.Debug("fifo created", logging.F("depth", depth), logging.F("samples", samples))
	return f, nil
}

// Enqueue copies data into the node at head, stamps it with count and
// publishes it. It blocks while the ring is full. Only ctx can interrupt the
// wait.
func (f *FIFO) Enqueue(ctx context.Context, count uint64, data []sdr.CPX) error {
	if len(data) != f.samples {
		return fmt.Errorf("%w: got %d, want %d", ErrBlockSize, len(data), f.samples)
	}
	if err := f.empty.Acquire(ctx, 1); err != nil {
		return err
	}
	f.put(count, data)
	return nil
}

// TryEnqueue is Enqueue without blocking. It reports false when the ring is
// full or data has the wrong length.
func (f *FIFO) TryEnqueue(count uint64, data []sdr.CPX) bool {
	if len(data) != f.samples || !f.empty.TryAcquire(1) {
		return false
	}
	f.put(count, data)
	return true
}

func (f *FIFO) put(count uint64, data []sdr.CPX) {
	f.headMu.Lock()
	n := &f.ring.nodes[f.ring.head]
	copy(n.Data, data)
	n.Count = count
	f.ring.head = f.ring.advance(f.ring.head)
	f.headMu.Unlock()

	f.occupancy.Add(1)
	f.filled.Release(1)
}

// Dequeue copies the oldest unread packet into dst, blocking while the ring
// is empty. dst.Data is reallocated if it cannot hold a block. On error dst
// is left untouched.
func (f *FIFO) Dequeue(ctx context.Context, dst *Packet) error {
	if err := f.filled.Acquire(ctx, 1); err != nil {
		return err
	}
	f.take(dst)
	return nil
}

// TryDequeue is Dequeue without blocking. It reports false when the ring is
// empty.
func (f *FIFO) TryDequeue(dst *Packet) bool {
	if !f.filled.TryAcquire(1) {
		return false
	}
	f.take(dst)
	return true
}

func (f *FIFO) take(dst *Packet) {
	if len(dst.Data) != f.samples {
		dst.Data = make([]sdr.CPX, f.samples)
	}

	f.tailMu.Lock()
	n := &f.ring.nodes[f.ring.tail]
	copy(dst.Data, n.Data)
	dst.Count = n.Count
	f.ring.tail = f.ring.advance(f.ring.tail)
	f.tailMu.Unlock()

	f.occupancy.Add(-1)
	f.empty.Release(1)
}

// Len reports how many packets are waiting.
func (f *FIFO) Len() int { return int(f.occupancy.Load()) }

// Cap reports the ring depth.
func (f *FIFO) Cap() int { return f.depth }

// Samples reports the block length.
func (f *FIFO) Samples() int { return f.samples }
