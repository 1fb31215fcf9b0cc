package dsp

import (
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// FloorDBFS stands in for empty bins so spectra stay JSON encodable.
const FloorDBFS = -200.0

// Spectrum is a DC-centred power spectrum of one block.
type Spectrum struct {
	Count          uint64    `json:"count"`
	SampleRate     float64   `json:"sample_rate"`
	BinHz          float64   `json:"bin_hz"`
	DBFS           []float64 `json:"dbfs"`
	PeakHz         float64   `json:"peak_hz"`
	PeakDBFS       float64   `json:"peak_dbfs"`
	NoiseFloorDBFS float64   `json:"noise_floor_dbfs"`
}

// FFTShift rotates FFT output so that DC is centred.
func FFTShift[T any](data []T) []T {
	n := len(data)
	if n == 0 {
		return []T{}
	}
	half := n / 2
	out := make([]T, 0, n)
	out = append(out, data[half:]...)
	return append(out, data[:half]...)
}

// toDBFS converts normalized coefficients to dB relative to fullScale.
func toDBFS(coeff []complex128, fullScale float64) []float64 {
	db := make([]float64, len(coeff))
	for i, v := range coeff {
		mag := cmplx.Abs(v)
		if mag == 0 {
			db[i] = FloorDBFS
			continue
		}
		db[i] = max(20*math.Log10(mag/fullScale), FloorDBFS)
	}
	return db
}

// summarize fills the peak and noise floor fields from s.DBFS.
func (s *Spectrum) summarize() {
	if len(s.DBFS) == 0 {
		return
	}
	peak := 0
	for i, v := range s.DBFS {
		if v > s.DBFS[peak] {
			peak = i
		}
	}
	s.PeakDBFS = s.DBFS[peak]
	s.PeakHz = float64(peak-len(s.DBFS)/2) * s.BinHz

	sorted := slices.Clone(s.DBFS)
	slices.Sort(sorted)
	s.NoiseFloorDBFS = stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Decimate reduces bins to at most n points, keeping the maximum of each
// group so narrow peaks survive.
func Decimate(bins []float64, n int) []float64 {
	if n <= 0 || len(bins) <= n {
		return slices.Clone(bins)
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(bins) / n
		hi := (i + 1) * len(bins) / n
		out[i] = slices.Max(bins[lo:hi])
	}
	return out
}
