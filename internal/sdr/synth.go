package sdr

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"
)

// SynthConfig parameterizes the synthetic front end.
type SynthConfig struct {
	SampleRate   float64
	SamplesPerMs int
	ToneOffset   float64
	Amplitude    float64 // peak amplitude in ADC counts
	Noise        float64 // gaussian noise sigma in ADC counts
	Seed         uint64
	// BufferMs is how many milliseconds the staging ring can hold before the
	// generator starts dropping, like a USB front end overrunning.
	BufferMs int
}

func (c SynthConfig) withDefaults() SynthConfig {
	if c.SampleRate == 0 {
		c.SampleRate = 2.048e6
	}
	if c.SamplesPerMs == 0 {
		c.SamplesPerMs = int(c.SampleRate / 1000)
	}
	if c.ToneOffset == 0 {
		c.ToneOffset = 604e3
	}
	if c.Amplitude == 0 {
		c.Amplitude = 400
	}
	if c.BufferMs == 0 {
		c.BufferMs = 64
	}
	return c
}

// SynthSource synthesizes an IF tone plus noise at real-time pace.
type SynthSource struct {
	cfg     SynthConfig
	dropped atomic.Uint64
}

func NewSynth(cfg SynthConfig) *SynthSource {
	return &SynthSource{cfg: cfg.withDefaults()}
}

func (s *SynthSource) String() string { return "synth://" }

// Config returns the effective configuration.
func (s *SynthSource) Config() SynthConfig { return s.cfg }

// Dropped reports how many milliseconds were discarded because the staging
// ring was full.
func (s *SynthSource) Dropped() uint64 { return s.dropped.Load() }

// Generate fills dst with samples starting at absolute sample index start.
func (s *SynthSource) Generate(dst []CPX, start uint64, rng *rand.Rand) {
	cfg := s.Config()
	step := 2 * math.Pi * cfg.ToneOffset / cfg.SampleRate
	for i := range dst {
		phase := step * float64(start+uint64(i))
		re := cfg.Amplitude * math.Cos(phase)
		im := cfg.Amplitude * math.Sin(phase)
		if cfg.Noise > 0 && rng != nil {
			re += rng.NormFloat64() * cfg.Noise
			im += rng.NormFloat64() * cfg.Noise
		}
		dst[i] = CPX{I: clampInt16(math.Round(re)), Q: clampInt16(math.Round(im))}
	}
}

// Stream writes one millisecond of samples per tick to sink until ctx ends
// or sink fails. Pacing follows the wall clock.
func (s *SynthSource) Stream(ctx context.Context, sink func([]byte) error) error {
	cfg := s.Config()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	block := make([]CPX, cfg.SamplesPerMs)
	buf := make([]byte, len(block)*CPXSize)
	limiter := rate.NewLimiter(rate.Every(time.Millisecond), 1)

	var sample uint64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		s.Generate(block, sample, rng)
		sample += uint64(len(block))
		if err := EncodeIQ(buf, block); err != nil {
			return err
		}
		if err := sink(buf); err != nil {
			return err
		}
	}
}

// Open starts the generator and returns a reader over its staging ring. The
// generator runs until the reader is closed; canceling ctx afterwards does
// not stop it.
func (s *SynthSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := s.Config()
	blockBytes := cfg.SamplesPerMs * CPXSize
	rb := ringbuffer.New(blockBytes * cfg.BufferMs)

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &synthReader{
		rb:     rb,
		ready:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		_ = s.Stream(genCtx, func(b []byte) error {
			if rb.Free() < len(b) {
				s.dropped.Add(1)
				return nil
			}
			if _, err := rb.Write(b); err != nil {
				if errors.Is(err, ringbuffer.ErrIsFull) {
					s.dropped.Add(1)
					return nil
				}
				return err
			}
			select {
			case r.ready <- struct{}{}:
			default:
			}
			return nil
		})
	}()
	return r, nil
}

// synthReader delivers whatever is staged, in arbitrary chunk sizes, and
// returns zero bytes when the generator has not caught up yet.
type synthReader struct {
	rb     *ringbuffer.RingBuffer
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

func (r *synthReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, io.EOF
	}
	if n, err := r.rb.Read(p); n > 0 {
		return n, nil
	} else if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	select {
	case <-r.ready:
	case <-r.done:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}
	return 0, nil
}

func (r *synthReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.cancel()
	<-r.done
	return nil
}
