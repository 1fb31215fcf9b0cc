package dsp

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/rjboer/GoGNSS/internal/sdr"
)

// Analyzer computes spectra of fixed size IF blocks. The window, FFT plan
// and scratch buffers are allocated once and reused across calls.
type Analyzer struct {
	mu         sync.Mutex
	size       int
	sampleRate float64
	fullScale  float64
	window     []float64
	windowSum  float64
	fft        *fourier.CmplxFFT
	buf        []complex128
	coeff      []complex128
}

// NewAnalyzer prepares an analyzer for blocks of size samples. fullScale is
// the magnitude that maps to 0 dBFS.
func NewAnalyzer(size int, sampleRate, fullScale float64) *Analyzer {
	window := Hamming(size)

	// Pre-compute window sum for normalization
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	if fullScale <= 0 {
		fullScale = 1
	}

	return &Analyzer{
		size:       size,
		sampleRate: sampleRate,
		fullScale:  fullScale,
		window:     window,
		windowSum:  sum,
		fft:        fourier.NewCmplxFFT(size),
		buf:        make([]complex128, size),
		coeff:      make([]complex128, size),
	}
}

// Analyze windows block, transforms it and returns its dBFS spectrum with
// the peak and median noise floor filled in.
func (a *Analyzer) Analyze(block []sdr.CPX) (Spectrum, error) {
	if len(block) != a.size {
		return Spectrum{}, fmt.Errorf("analyze: block has %d samples, want %d", len(block), a.size)
	}

	a.mu.Lock()
	ApplyWindow(a.buf, block, a.window)
	a.fft.Coefficients(a.coeff, a.buf)
	for i := range a.coeff {
		a.coeff[i] /= complex(a.windowSum, 0)
	}
	db := toDBFS(FFTShift(a.coeff), a.fullScale)
	a.mu.Unlock()

	s := Spectrum{
		SampleRate: a.sampleRate,
		BinHz:      a.sampleRate / float64(a.size),
		DBFS:       db,
	}
	s.summarize()
	return s, nil
}

// Size returns the block size this analyzer was built for.
func (a *Analyzer) Size() int { return a.size }
