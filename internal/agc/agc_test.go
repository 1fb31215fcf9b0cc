package agc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoGNSS/internal/sdr"
)

func TestLimit(t *testing.T) {
	assert.Equal(t, int32(15), Limit(5))
	assert.Equal(t, int32(127), Limit(8))
	assert.Equal(t, int32(32767), Limit(20))
	assert.Equal(t, int32(1), Limit(0))
}

func TestInitSeedsFromRMS(t *testing.T) {
	block := make([]sdr.CPX, 1024)
	for i := range block {
		if i%2 == 0 {
			block[i] = sdr.CPX{I: 500, Q: -500}
		} else {
			block[i] = sdr.CPX{I: -500, Q: 500}
		}
	}
	scale := Fixed{}.Init(block, 5)
	// rms 500, target 15/3 = 5, so scale = 5/500*4096 ≈ 41
	assert.Equal(t, int32(41), scale)
}

func TestInitSilentBlockUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultScale, Fixed{}.Init(make([]sdr.CPX, 16), 5))
	assert.Equal(t, DefaultScale, Fixed{}.Init(nil, 5))
}

func TestApplyScalesInPlace(t *testing.T) {
	block := []sdr.CPX{{I: 8, Q: -8}, {I: 20, Q: 2}}
	scale := int32(Unity / 2)
	overflow := Fixed{}.Apply(block, 5, &scale)

	assert.False(t, overflow)
	assert.Equal(t, []sdr.CPX{{I: 4, Q: -4}, {I: 10, Q: 1}}, block)
	assert.Equal(t, int32(Unity/2+1), scale, "clean block releases by one step")
}

func TestApplyClipsAndAttacks(t *testing.T) {
	block := make([]sdr.CPX, 64)
	for i := range block {
		block[i] = sdr.CPX{I: 3, Q: -3}
	}
	block[0] = sdr.CPX{I: 1000, Q: -1000}

	scale := int32(Unity)
	overflow := Fixed{}.Apply(block, 5, &scale)
	require.True(t, overflow)
	assert.Equal(t, sdr.CPX{I: 15, Q: -15}, block[0])
	assert.Equal(t, sdr.CPX{I: 3, Q: -3}, block[1])
	// two clipped values in 64 samples crosses the heavy threshold
	assert.Equal(t, int32(Unity-Unity/8), scale)
}

func TestApplyLightClipping(t *testing.T) {
	block := make([]sdr.CPX, 256)
	block[0] = sdr.CPX{I: 100}

	scale := int32(Unity)
	overflow := Fixed{}.Apply(block, 5, &scale)
	require.True(t, overflow)
	assert.Equal(t, int32(Unity-Unity/16), scale)
}

func TestApplyScaleBounds(t *testing.T) {
	scale := MaxScale
	Fixed{}.Apply(make([]sdr.CPX, 4), 5, &scale)
	assert.Equal(t, MaxScale, scale)

	scale = MinScale
	block := []sdr.CPX{{I: 32767, Q: 32767}}
	Fixed{}.Apply(block, 1, &scale)
	assert.Equal(t, MinScale, scale)
}

func TestFixedConvergesOnSteadyInput(t *testing.T) {
	src := make([]sdr.CPX, 2048)
	for i := range src {
		v := int16((i%7 - 3) * 300)
		src[i] = sdr.CPX{I: v, Q: -v}
	}
	var n Normalizer = Fixed{}
	scale := n.Init(src, 5)
	block := make([]sdr.CPX, len(src))
	for ms := 0; ms < 50; ms++ {
		copy(block, src)
		n.Apply(block, 5, &scale)
	}
	for _, s := range block {
		assert.LessOrEqual(t, s.I, int16(15))
		assert.GreaterOrEqual(t, s.I, int16(-15))
	}
	assert.Greater(t, scale, MinScale)
}
