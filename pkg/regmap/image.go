package regmap

import (
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
)

// Image is an immutable snapshot of everything the bus can read. A new one is built after
// every tick and every committed write.
type Image struct {
	Map      *Map
	Seq      uint64
	Motors   [2]motor.State
	Tunables motor.Tunables

	units [][TransferUnit]byte
}

func NewImage(m *Map, seq uint64, motors [2]motor.State, tun motor.Tunables) *Image {
	img := &Image{
		Map:      m,
		Seq:      seq,
		Motors:   motors,
		Tunables: tun,
		units:    make([][TransferUnit]byte, len(m.Entries)),
	}
	for i, e := range m.Entries {
		if e.Readable {
			img.units[i] = Encode(e.Kind, Value(e, motors, tun))
		}
	}
	return img
}

// Read returns the transfer unit for addr. ok is false for addresses that cannot be read.
func (img *Image) Read(addr byte) (unit [TransferUnit]byte, ok bool) {
	e, ok := img.Map.Lookup(addr)
	if !ok || !e.Readable {
		return unit, false
	}
	return img.units[addr], true
}

// Value is the register content of a readable entry.
func Value(e Entry, motors [2]motor.State, tun motor.Tunables) uint32 {
	s := motors[e.Motor]
	switch e.Field {
	case FieldControl:
		return uint32(s.Control)
	case FieldPower:
		return uint32(s.CurrentPower)
	case FieldEncoder:
		return uint32(s.EncoderValue)
	case FieldRate:
		return uint32(uint16(RoundRate(s.CurrentRate)))
	case FieldCurrent:
		return uint32(s.CurrentDraw)
	case FieldKP:
		return FloatBits(tun.KP)
	case FieldKI:
		return FloatBits(tun.KI)
	case FieldKD:
		return FloatBits(tun.KD)
	case FieldRampingRate:
		return uint32(tun.RampingRate)
	case FieldMinPower:
		return uint32(tun.MinPower)
	}
	return 0
}
