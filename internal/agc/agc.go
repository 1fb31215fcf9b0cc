// Package agc scales raw IF samples into a small signed range before they
// are queued for correlation.
package agc

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/GoGNSS/internal/sdr"
)

const (
	// Unity is the Q12 fixed-point scale that leaves samples unchanged.
	Unity = 1 << fracBits
	// DefaultScale halves the input.
	DefaultScale int32 = 2048
	// MinScale and MaxScale bound the feedback loop.
	MinScale int32 = 1
	MaxScale int32 = 1 << 20

	fracBits = 12
)

// Normalizer computes and applies a running gain scale to one millisecond of
// samples. Init is called once with the first block to seed the scale. Apply
// rescales block in place, updates *scale and reports whether any sample
// clipped.
type Normalizer interface {
	Init(block []sdr.CPX, bits int) int32
	Apply(block []sdr.CPX, bits int, scale *int32) bool
}

// Fixed is the default Normalizer. Samples are multiplied by scale/4096 and
// saturated to the signed range of bits. Clipping shrinks the scale quickly,
// a clean block grows it by one step.
type Fixed struct {
	// Sigmas is how many standard deviations of the input should fit in the
	// output range when seeding. Zero means 3.
	Sigmas float64
}

// Limit returns the largest magnitude representable in bits signed bits.
func Limit(bits int) int32 {
	if bits < 2 {
		return 1
	}
	if bits > 16 {
		bits = 16
	}
	return int32(1)<<(bits-1) - 1
}

func (f Fixed) Init(block []sdr.CPX, bits int) int32 {
	if len(block) == 0 {
		return DefaultScale
	}
	x := make([]float64, 0, 2*len(block))
	for _, s := range block {
		x = append(x, float64(s.I), float64(s.Q))
	}
	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	if rms == 0 {
		return DefaultScale
	}
	sigmas := f.Sigmas
	if sigmas <= 0 {
		sigmas = 3
	}
	target := float64(Limit(bits)) / sigmas
	return clampScale(int64(math.Round(target / rms * Unity)))
}

func (f Fixed) Apply(block []sdr.CPX, bits int, scale *int32) bool {
	limit := Limit(bits)
	s := int64(*scale)
	clipped := 0
	for n := range block {
		var c bool
		block[n].I, c = rescale(block[n].I, s, limit)
		if c {
			clipped++
		}
		block[n].Q, c = rescale(block[n].Q, s, limit)
		if c {
			clipped++
		}
	}

	switch {
	case clipped*64 > len(block):
		s -= max(s>>3, 1)
	case clipped > 0:
		s -= max(s>>4, 1)
	default:
		s++
	}
	*scale = clampScale(s)
	return clipped > 0
}

func rescale(v int16, scale int64, limit int32) (int16, bool) {
	out := (int64(v)*scale + Unity/2) >> fracBits
	if out > int64(limit) {
		return int16(limit), true
	}
	if out < -int64(limit) {
		return int16(-limit), true
	}
	return int16(out), false
}

func clampScale(s int64) int32 {
	if s < int64(MinScale) {
		return MinScale
	}
	if s > int64(MaxScale) {
		return MaxScale
	}
	return int32(s)
}
