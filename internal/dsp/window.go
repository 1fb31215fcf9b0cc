package dsp

import (
	"math"

	"github.com/rjboer/GoGNSS/internal/sdr"
)

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// ApplyWindow multiplies raw samples with the window into dst.
// dst, samples and window must have the same length.
func ApplyWindow(dst []complex128, samples []sdr.CPX, window []float64) {
	for i, s := range samples {
		dst[i] = complex(float64(s.I)*window[i], float64(s.Q)*window[i])
	}
}
