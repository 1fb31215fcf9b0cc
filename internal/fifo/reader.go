package fifo

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/runstate"
)

// ReadChunk is the largest single read issued against the source, matching
// the atomic write size of a Linux pipe.
const ReadChunk = 4096

// ReadStats counts source activity.
type ReadStats struct {
	Attempts uint64 `json:"attempts"`
	Stalls   uint64 `json:"stalls"`
	Errors   uint64 `json:"errors"`
	Bytes    uint64 `json:"bytes"`
	Blocks   uint64 `json:"blocks"`
}

// BlockReader accumulates fixed size blocks from a byte stream that may
// deliver data in arbitrarily small pieces.
type BlockReader struct {
	src    io.Reader
	run    *runstate.Flag
	logger logging.Logger

	// ChunkSize caps each read. Zero means ReadChunk.
	ChunkSize int
	// IdleBackoff is slept after an attempt that delivered nothing.
	IdleBackoff time.Duration

	attempts atomic.Uint64
	stalls   atomic.Uint64
	errors   atomic.Uint64
	bytes    atomic.Uint64
	blocks   atomic.Uint64
	failing  bool
}

func NewBlockReader(src io.Reader, run *runstate.Flag, logger logging.Logger) *BlockReader {
	if logger == nil {
		logger = logging.Default()
	}
	return &BlockReader{
		src:       src,
		run:       run,
		logger:    logger.With(logging.F("subsystem", "reader")),
		ChunkSize: ReadChunk,
	}
}

// ReadBlock fills dst completely. Short reads, zero byte reads and read
// errors are retried for as long as the run flag is set. It returns false if
// the flag was cleared first, in which case dst holds a partial block.
func (r *BlockReader) ReadBlock(dst []byte) bool {
	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = ReadChunk
	}

	n := 0
	for n < len(dst) && r.run.Running() {
		end := min(n+chunk, len(dst))
		got, err := r.src.Read(dst[n:end])
		r.attempts.Add(1)
		if got > 0 {
			n += got
			r.bytes.Add(uint64(got))
		}
		if err != nil {
			r.errors.Add(1)
			if !r.failing {
				r.failing = true
				r.logger.Warn("source read failing, retrying", logging.F("error", err))
			}
		} else if got > 0 && r.failing {
			r.failing = false
			r.logger.Info("source read recovered")
		}
		if got <= 0 {
			r.stalls.Add(1)
			if r.IdleBackoff > 0 {
				time.Sleep(r.IdleBackoff)
			}
		}
	}
	if n < len(dst) {
		return false
	}
	r.blocks.Add(1)
	return true
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (r *BlockReader) Stats() ReadStats {
	return ReadStats{
		Attempts: r.attempts.Load(),
		Stalls:   r.stalls.Load(),
		Errors:   r.errors.Load(),
		Bytes:    r.bytes.Load(),
		Blocks:   r.blocks.Load(),
	}
}
