package fifo

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/runstate"
)

// scriptedReader replays a fixed list of read results.
type scriptedReader struct {
	mu    sync.Mutex
	steps []step
}

type step struct {
	data []byte
	err  error
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	st := s.steps[0]
	n := copy(p, st.data)
	if n < len(st.data) {
		s.steps[0].data = st.data[n:]
	} else {
		s.steps = s.steps[1:]
	}
	return n, st.err
}

func seq(n int, base byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = base + byte(i)
	}
	return b
}

func TestReadBlockAssemblesThreeChunks(t *testing.T) {
	block := seq(96, 0)
	src := &scriptedReader{steps: []step{
		{data: block[:32]},
		{data: block[32:64]},
		{data: block[64:]},
	}}
	r := NewBlockReader(src, runstate.New(), logging.Discard())

	dst := make([]byte, 96)
	require.True(t, r.ReadBlock(dst))
	assert.Equal(t, block, dst)

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Attempts)
	assert.Equal(t, uint64(96), st.Bytes)
	assert.Equal(t, uint64(1), st.Blocks)
	assert.Zero(t, st.Stalls)
}

func TestReadBlockRetriesStallsAndErrors(t *testing.T) {
	block := seq(40, 10)
	src := &scriptedReader{steps: []step{
		{data: nil},
		{data: block[:10]},
		{err: errors.New("EAGAIN")},
		{data: nil},
		{data: block[10:]},
	}}
	r := NewBlockReader(src, runstate.New(), logging.Discard())

	dst := make([]byte, 40)
	require.True(t, r.ReadBlock(dst))
	assert.Equal(t, block, dst)

	st := r.Stats()
	assert.Equal(t, uint64(5), st.Attempts)
	assert.Equal(t, uint64(3), st.Stalls)
	assert.Equal(t, uint64(1), st.Errors)
}

func TestReadBlockCapsEachRead(t *testing.T) {
	src := &scriptedReader{steps: []step{{data: seq(100, 0)}}}
	r := NewBlockReader(src, runstate.New(), logging.Discard())
	r.ChunkSize = 30

	dst := make([]byte, 100)
	require.True(t, r.ReadBlock(dst))
	assert.Equal(t, uint64(4), r.Stats().Attempts)
}

func TestReadBlockKeepsBoundariesAcrossBlocks(t *testing.T) {
	stream := seq(60, 0)
	src := &scriptedReader{steps: []step{{data: stream[:25]}, {data: stream[25:]}}}
	r := NewBlockReader(src, runstate.New(), logging.Discard())

	a := make([]byte, 30)
	b := make([]byte, 30)
	require.True(t, r.ReadBlock(a))
	require.True(t, r.ReadBlock(b))
	assert.Equal(t, stream[:30], a)
	assert.Equal(t, stream[30:], b)
}

func TestReadBlockReturnsOnShutdown(t *testing.T) {
	run := runstate.New()
	// a silent source never delivers
	src := &scriptedReader{}
	r := NewBlockReader(src, run, logging.Discard())
	r.IdleBackoff = time.Millisecond

	done := make(chan bool, 1)
	go func() { done <- r.ReadBlock(make([]byte, 64)) }()

	time.Sleep(10 * time.Millisecond)
	run.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadBlock kept looping after shutdown")
	}
}

func TestReadBlockStoppedFlagDoesNotRead(t *testing.T) {
	run := runstate.New()
	run.Stop()
	src := &scriptedReader{steps: []step{{data: seq(8, 0)}}}
	r := NewBlockReader(src, run, logging.Discard())
	assert.False(t, r.ReadBlock(make([]byte, 8)))
	assert.Zero(t, r.Stats().Attempts)
}
