package fifo

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/runstate"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

// streamOpener hands out a scripted byte stream.
type streamOpener struct {
	src   io.ReadCloser
	fails int
	calls atomic.Int32
}

func (o *streamOpener) String() string { return "test://" }

func (o *streamOpener) Open(context.Context) (io.ReadCloser, error) {
	n := int(o.calls.Add(1))
	if n <= o.fails {
		return nil, errors.New("no front end")
	}
	return o.src, nil
}

type nopCloser struct {
	io.Reader
	closed atomic.Bool
}

func (n *nopCloser) Close() error {
	n.closed.Store(true)
	return nil
}

// encodeBlocks builds a stream where every sample of block k equals k.
func encodeBlocks(t *testing.T, blocks, samples int) []byte {
	t.Helper()
	out := make([]byte, 0, blocks*samples*sdr.CPXSize)
	buf := make([]byte, samples*sdr.CPXSize)
	for k := 0; k < blocks; k++ {
		require.NoError(t, sdr.EncodeIQ(buf, blockOf(samples, int16(k))))
		out = append(out, buf...)
	}
	return out
}

// identity leaves samples alone and remembers the scales it was handed.
type identity struct {
	mu     sync.Mutex
	inits  int
	scales []int32
	clip   func(call int) bool
}

func (n *identity) Init([]sdr.CPX, int) int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inits++
	return 100
}

func (n *identity) Apply(_ []sdr.CPX, _ int, scale *int32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scales = append(n.scales, *scale)
	call := len(n.scales)
	*scale = *scale + 1
	return n.clip != nil && n.clip(call)
}

type recorder struct {
	blocks    atomic.Int32
	overflows atomic.Int32
	opens     atomic.Int32
}

func (r *recorder) RecordBlock(_ int, _ int32, overflow bool, _ time.Duration) {
	r.blocks.Add(1)
	if overflow {
		r.overflows.Add(1)
	}
}

func (r *recorder) RecordOpen(int, error) { r.opens.Add(1) }

func testConfig() ImporterConfig {
	cfg := DefaultImporterConfig()
	cfg.IdleBackoff = 100 * time.Microsecond
	cfg.OpenInterval = time.Millisecond
	return cfg
}

func TestImporterSkipsCalibrationBlock(t *testing.T) {
	const samples = 8
	f := newTestFIFO(t, 16, samples)
	src := &nopCloser{Reader: &scriptedReader{steps: []step{{data: encodeBlocks(t, 5, samples)}}}}
	run := runstate.New()
	norm := &identity{}
	rec := &recorder{}
	im := NewImporter(f, &streamOpener{src: src}, run, testConfig(),
		WithNormalizer(norm), WithRecorder(rec), WithImporterLogger(logging.Discard()))

	require.NoError(t, im.Start(t.Context()))

	p := NewPacket(samples)
	for want := uint64(1); want <= 4; want++ {
		require.NoError(t, f.Dequeue(t.Context(), &p))
		assert.Equal(t, want, p.Count)
		assert.Equal(t, blockOf(samples, int16(want)), p.Data, "block %d", want)
	}

	run.Stop()
	require.NoError(t, im.Wait())

	assert.Equal(t, Stopped, im.State())
	assert.True(t, src.closed.Load())
	assert.Equal(t, uint64(5), im.Count())
	assert.Equal(t, 1, norm.inits)
	assert.Equal(t, []int32{100, 101, 102, 103}, norm.scales)
	assert.Equal(t, int32(4), rec.blocks.Load())
	assert.Equal(t, int32(1), rec.opens.Load())
	assert.Zero(t, f.Len())
}

func TestImporterCountsOverflow(t *testing.T) {
	const samples = 4
	f := newTestFIFO(t, 8, samples)
	src := &nopCloser{Reader: &scriptedReader{steps: []step{{data: encodeBlocks(t, 4, samples)}}}}
	run := runstate.New()
	norm := &identity{clip: func(call int) bool { return call != 2 }}
	im := NewImporter(f, &streamOpener{src: src}, run, testConfig(),
		WithNormalizer(norm), WithImporterLogger(logging.Discard()))

	require.NoError(t, im.Start(t.Context()))
	require.Eventually(t, func() bool { return f.Len() == 3 }, 2*time.Second, time.Millisecond)
	run.Stop()
	require.NoError(t, im.Wait())

	st := im.Status()
	assert.Equal(t, uint64(2), st.Overflows)
	assert.True(t, st.LastOverflow)
	assert.Equal(t, 3, st.Occupancy)
	assert.Equal(t, 8, st.Depth)
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, "test://", st.Source)
	assert.Equal(t, uint64(4), st.Read.Blocks)
	assert.Equal(t, uint64(4), st.Thread.Iterations)
}

// gateReader only releases bytes the test has allowed.
type gateReader struct {
	mu      sync.Mutex
	data    []byte
	allowed int
}

func (g *gateReader) allow(n int) {
	g.mu.Lock()
	g.allowed += n
	g.mu.Unlock()
}

func (g *gateReader) Read(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	limit := min(g.allowed, len(g.data))
	n := copy(p, g.data[:limit])
	g.data = g.data[n:]
	g.allowed -= n
	return n, nil
}

func TestImporterSetScaleOverridesLoop(t *testing.T) {
	const samples = 4
	blockBytes := samples * sdr.CPXSize
	f := newTestFIFO(t, 4, samples)
	gate := &gateReader{data: encodeBlocks(t, 3, samples)}
	run := runstate.New()
	norm := &identity{}
	im := NewImporter(f, &streamOpener{src: &nopCloser{Reader: gate}}, run, testConfig(),
		WithNormalizer(norm), WithImporterLogger(logging.Discard()))

	gate.allow(2 * blockBytes)
	require.NoError(t, im.Start(t.Context()))
	require.Eventually(t, func() bool { return f.Len() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(101), im.Scale())

	im.SetScale(7)
	gate.allow(blockBytes)
	require.Eventually(t, func() bool { return f.Len() == 2 }, 2*time.Second, time.Millisecond)

	run.Stop()
	require.NoError(t, im.Wait())

	norm.mu.Lock()
	defer norm.mu.Unlock()
	assert.Equal(t, []int32{100, 7}, norm.scales)
	assert.Equal(t, int32(8), im.Scale())
}

func TestImporterSetScaleBeforeCalibrationSurvives(t *testing.T) {
	const samples = 4
	f := newTestFIFO(t, 4, samples)
	src := &nopCloser{Reader: &scriptedReader{steps: []step{{data: encodeBlocks(t, 3, samples)}}}}
	run := runstate.New()
	norm := &identity{}
	im := NewImporter(f, &streamOpener{src: src}, run, testConfig(),
		WithNormalizer(norm), WithImporterLogger(logging.Discard()))

	im.SetScale(9)
	require.NoError(t, im.Start(t.Context()))
	require.Eventually(t, func() bool { return f.Len() == 2 }, 2*time.Second, time.Millisecond)

	run.Stop()
	require.NoError(t, im.Wait())

	norm.mu.Lock()
	defer norm.mu.Unlock()
	assert.Equal(t, 1, norm.inits)
	assert.Equal(t, []int32{9, 10}, norm.scales)
	assert.Equal(t, int32(11), im.Scale())
}

func TestImporterRetriesOpen(t *testing.T) {
	const samples = 4
	f := newTestFIFO(t, 4, samples)
	src := &nopCloser{Reader: &scriptedReader{steps: []step{{data: encodeBlocks(t, 2, samples)}}}}
	opener := &streamOpener{src: src, fails: 2}
	run := runstate.New()
	rec := &recorder{}
	im := NewImporter(f, opener, run, testConfig(),
		WithNormalizer(&identity{}), WithRecorder(rec), WithImporterLogger(logging.Discard()))

	require.NoError(t, im.Start(t.Context()))
	p := NewPacket(samples)
	require.NoError(t, f.Dequeue(t.Context(), &p))
	assert.Equal(t, uint64(1), p.Count)

	run.Stop()
	require.NoError(t, im.Wait())
	assert.Equal(t, int32(3), opener.calls.Load())
	assert.Equal(t, int32(3), rec.opens.Load())
}

func TestImporterFailsFastAfterOpenAttempts(t *testing.T) {
	f := newTestFIFO(t, 4, 4)
	opener := &streamOpener{fails: 100}
	cfg := testConfig()
	cfg.OpenAttempts = 3
	im := NewImporter(f, opener, runstate.New(), cfg, WithImporterLogger(logging.Discard()))

	err := im.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no front end")
	assert.Equal(t, int32(3), opener.calls.Load())
	assert.Equal(t, Stopped, im.State())

	assert.ErrorIs(t, im.Run(t.Context()), ErrAlreadyStarted)
}

func TestImporterOpenStopsWithRunFlag(t *testing.T) {
	f := newTestFIFO(t, 4, 4)
	run := runstate.New()
	run.Stop()
	im := NewImporter(f, &streamOpener{fails: 100}, run, testConfig(), WithImporterLogger(logging.Discard()))
	assert.ErrorIs(t, im.Run(t.Context()), ErrStopped)
}

func TestImporterFullRingHonoursContext(t *testing.T) {
	const samples = 4
	f := newTestFIFO(t, 1, samples)
	src := &nopCloser{Reader: &scriptedReader{steps: []step{{data: encodeBlocks(t, 4, samples)}}}}
	ctx, cancel := context.WithCancel(t.Context())
	im := NewImporter(f, &streamOpener{src: src}, runstate.New(), testConfig(),
		WithNormalizer(&identity{}), WithImporterLogger(logging.Discard()))

	require.NoError(t, im.Start(ctx))
	require.Eventually(t, func() bool { return f.Len() == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	err := im.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stopped, im.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "opening", Opening.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(9).String())
}

// stopAndDrain clears the run flag and keeps the ring moving until the
// importer exits, so a producer blocked on a full ring can finish.
func stopAndDrain(t *testing.T, run *runstate.Flag, im *Importer, f *FIFO) {
	t.Helper()
	run.Stop()
	done := make(chan error, 1)
	go func() { done <- im.Wait() }()
	p := NewPacket(f.Samples())
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			for f.TryDequeue(&p) {
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("importer did not stop")
		}
		if !f.TryDequeue(&p) {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func TestImporterOverSynthSource(t *testing.T) {
	const samples = 64
	f := newTestFIFO(t, 16, samples)
	synth := sdr.NewSynth(sdr.SynthConfig{SampleRate: 64e3, SamplesPerMs: samples, ToneOffset: 4e3, Seed: 3})
	run := runstate.New()
	im := NewImporter(f, synth, run, testConfig(), WithImporterLogger(logging.Discard()))
	require.NoError(t, im.Start(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	p := NewPacket(samples)
	for want := uint64(1); want <= 20; want++ {
		require.NoError(t, f.Dequeue(ctx, &p))
		assert.Equal(t, want, p.Count)
	}

	st := im.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "synth://", st.Source)
	assert.Positive(t, st.Read.Bytes)
	assert.LessOrEqual(t, st.Dropped, synth.Dropped())

	stopAndDrain(t, run, im, f)
	assert.Equal(t, Stopped, im.State())
}
