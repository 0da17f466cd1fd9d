package regmap

import (
	"encoding/binary"
	"math"
)

// Decode reads one field value from the front of b, which must hold at least
// k.Width() bytes. The result holds the field's bits: sign-extend with int16/int32
// conversions, or math.Float32frombits for floats.
func Decode(k Kind, b []byte) uint32 {
	switch k {
	case KindUint8:
		return uint32(b[0])
	case KindInt16, KindUint16:
		return uint32(binary.BigEndian.Uint16(b))
	case KindInt32:
		return binary.BigEndian.Uint32(b)
	case KindFloat:
		// Floats travel as the controller's in-memory image.
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// Encode writes v into the front of a transfer unit; the rest stays zero.
func Encode(k Kind, v uint32) (unit [TransferUnit]byte) {
	switch k {
	case KindUint8:
		unit[0] = byte(v)
	case KindInt16, KindUint16:
		binary.BigEndian.PutUint16(unit[:], uint16(v))
	case KindInt32:
		binary.BigEndian.PutUint32(unit[:], v)
	case KindFloat:
		binary.LittleEndian.PutUint32(unit[:], v)
	}
	return
}

func FloatBits(f float32) uint32 {
	return math.Float32bits(f)
}

func BitsFloat(v uint32) float32 {
	return math.Float32frombits(v)
}

// RoundRate converts a measured rate to its 16-bit register value, rounding half away
// from zero and saturating.
func RoundRate(rate float64) int16 {
	r := math.Round(rate)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
