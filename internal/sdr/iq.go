package sdr

import (
	"encoding/binary"
	"errors"
	"math"
)

// CPXSize is the wire size of one complex sample: int16 I followed by int16 Q.
const CPXSize = 4

// CPX is one complex IF sample as delivered by the front end.
type CPX struct {
	I int16
	Q int16
}

// DecodeIQ converts a raw interleaved int16 IQ buffer in native byte order
// into dst. len(buf) must equal len(dst)*CPXSize.
func DecodeIQ(dst []CPX, buf []byte) error {
	if len(buf) != len(dst)*CPXSize {
		return errors.New("DecodeIQ: buffer length does not match sample count")
	}
	for n := range dst {
		off := n * CPXSize
		dst[n].I = int16(binary.NativeEndian.Uint16(buf[off : off+2]))
		dst[n].Q = int16(binary.NativeEndian.Uint16(buf[off+2 : off+4]))
	}
	return nil
}

// EncodeIQ is the inverse of DecodeIQ. len(buf) must be at least len(src)*CPXSize.
func EncodeIQ(buf []byte, src []CPX) error {
	if len(buf) < len(src)*CPXSize {
		return errors.New("EncodeIQ: buffer too small")
	}
	for n, s := range src {
		off := n * CPXSize
		binary.NativeEndian.PutUint16(buf[off:off+2], uint16(s.I))
		binary.NativeEndian.PutUint16(buf[off+2:off+4], uint16(s.Q))
	}
	return nil
}

// clampInt16 saturates v into the int16 range.
func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
