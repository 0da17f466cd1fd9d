package motor

import "fmt"

// Flags is the control byte of one motor.
type Flags uint8

const (
	Direction Flags = 1 << iota
	Brake
	Speed
	Mode
	Encoder
	_
	CurrentReady
)

// RateMode reports whether the PID rate path is selected.
func (f Flags) RateMode() bool {
	return f&(Speed|Mode) == Speed|Mode
}

// Ticked reports whether the periodic tick services this motor.
func (f Flags) Ticked() bool {
	return f&(Speed|Encoder) != 0
}

func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{Direction, "DIR"}, {Brake, "BRAKE"}, {Speed, "SPEED"}, {Mode, "MODE"},
		{Encoder, "ENC"}, {CurrentReady, "CUR"},
	}
	s := ""
	for _, n := range names {
		if f&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

// State is everything the bus can observe about one motor.
type State struct {
	Control      Flags
	SetPower     uint8
	CurrentPower uint8
	ScaledPower  uint8
	TargetRate   int16
	CurrentRate  float64
	EncoderValue int32
	OldEnc       int32
	CurrentDraw  uint16

	// PID terms. I is the controller's memory and persists across ticks in rate mode.
	P, I, D float64
}

func (s State) String() string {
	return fmt.Sprintf("ctl=%v set=%d cur=%d scaled=%d target=%d rate=%.1f enc=%d amps=%d P=%.2f I=%.2f D=%.2f",
		s.Control, s.SetPower, s.CurrentPower, s.ScaledPower, s.TargetRate, s.CurrentRate,
		s.EncoderValue, s.CurrentDraw, s.P, s.I, s.D)
}

// Tunables are shared by both motors and owned by the board.
type Tunables struct {
	KP, KI, KD  float32
	RampingRate uint8
	MinPower    uint8
	Address     uint8
}

func DefaultTunables() Tunables {
	return Tunables{
		KP:          0.5,
		KI:          0.025,
		KD:          0.1,
		RampingRate: 5,
		MinPower:    20,
		Address:     0x03,
	}
}

// Timebase converts encoder deltas over one tick into a rate. KI and the ramping rate
// are applied once per tick, so changing RefreshHz changes their effective gain.
type Timebase struct {
	TicksPerRev float64
	RefreshHz   float64
	// RateScale is a calibration factor: 60 gives revolutions per minute.
	RateScale float64
}

func DefaultTimebase() Timebase {
	return Timebase{
		TicksPerRev: 48,
		RefreshHz:   100,
		RateScale:   60,
	}
}

func (tb Timebase) Rate(deltaTicks int32) float64 {
	if tb.TicksPerRev == 0 {
		return 0
	}
	return float64(deltaTicks) / tb.TicksPerRev * tb.RefreshHz * tb.RateScale
}
