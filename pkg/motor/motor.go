package motor

import (
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
)

// Motor is the control state machine of one motor. It is not safe for concurrent use:
// the board calls it from a single goroutine.
type Motor struct {
	Name string
	State

	timebase Timebase
	out      channel.Channel
	enc      *encoder.Counter
	log      *log.Entry
}

func New(name string, control Flags, tb Timebase, out channel.Channel, enc *encoder.Counter) *Motor {
	if enc == nil {
		enc = new(encoder.Counter)
	}
	m := &Motor{
		Name:     name,
		timebase: tb,
		out:      out,
		enc:      enc,
		log:      log.WithField("motor", name),
	}
	m.Control = control
	return m
}

// Tick runs one periodic control step.
func (m *Motor) Tick(t Tunables) error {
	prevRate := m.CurrentRate
	if m.Control&Encoder != 0 {
		m.sampleEncoder()
	}
	return m.update(t, prevRate, true)
}

// Refresh re-derives the commanded output after the master changed the power target,
// without waiting for the next tick. It never samples the encoder, integrates the PID
// or takes a ramp step.
func (m *Motor) Refresh(t Tunables) error {
	return m.update(t, m.CurrentRate, false)
}

// UpdateControl applies a new control byte.
func (m *Motor) UpdateControl(t Tunables) error {
	m.enc.SetEnabled(m.Control&Encoder != 0 || m.Control.RateMode())

	if m.Control&Speed == 0 {
		if err := m.applyDirection(); err != nil {
			return err
		}
	}
	if !m.Control.RateMode() {
		m.P, m.I, m.D = 0, 0, 0
		m.TargetRate = 0
		return m.Refresh(t)
	}
	m.Control &^= Brake
	m.Control |= Encoder
	return m.applyDirection()
}

// SetEncoder overwrites the tick count. The rate baseline moves with it so the next
// tick does not see the jump as motion.
func (m *Motor) SetEncoder(v int32) {
	m.enc.Store(v)
	m.EncoderValue = v
	m.OldEnc = v
}

// SyncEncoder copies the live tick count into the state without touching the rate.
func (m *Motor) SyncEncoder() {
	m.EncoderValue = m.enc.Load()
}

func (m *Motor) SetCurrentDraw(raw uint16) {
	m.CurrentDraw = raw
	m.Control |= CurrentReady
}

func (m *Motor) sampleEncoder() {
	v := m.enc.Load()
	m.EncoderValue = v
	m.CurrentRate = m.timebase.Rate(v - m.OldEnc)
	m.OldEnc = v
}

func (m *Motor) update(t Tunables, prevRate float64, tick bool) error {
	switch {
	case m.Control.RateMode():
		if tick {
			if err := m.updateRate(t, prevRate); err != nil {
				return err
			}
		}
	case m.Control&Speed != 0:
		m.ScaledPower = ScalePower(m.SetPower, t.MinPower)
		if tick {
			if err := m.ramp(t); err != nil {
				return err
			}
		}
	case m.Control&Mode != 0:
		m.CurrentPower = ScalePower(m.SetPower, t.MinPower)
	default:
		m.CurrentPower = m.SetPower
	}
	return m.applyPower()
}

func (m *Motor) updateRate(t Tunables, prevRate float64) error {
	target := float64(m.TargetRate)
	m.P = float64(t.KP) * target
	m.I += float64(t.KI) * (target - m.CurrentRate)
	m.D = float64(t.KD) * (prevRate - m.CurrentRate)

	sum := m.P + m.I + m.D
	if math.IsNaN(sum) {
		m.log.WithFields(log.Fields{"P": m.P, "I": m.I, "D": m.D}).Warn("PID output is not a number, holding minimum power")
		// Drop the poisoned integral so the loop recovers once the gains are fixed.
		m.P, m.I, m.D = 0, 0, 0
		m.CurrentPower = t.MinPower
		return nil
	}
	// Saturate before converting; an out of range float has no defined int value.
	mag := math.Min(math.Abs(sum), 255)
	m.CurrentPower = uint8(clamp(int(math.Round(mag)), int(t.MinPower), 255))

	switch {
	case sum < 0 && m.Control&Direction == 0:
		m.Control |= Direction
	case sum > 0 && m.Control&Direction != 0:
		m.Control &^= Direction
	default:
		return nil
	}
	m.log.WithField("sum", sum).Debug("PID output changed sign, flipping direction")
	return m.applyDirection()
}

func (m *Motor) ramp(t Tunables) error {
	cur := int(m.CurrentPower)
	scaled := int(m.ScaledPower)
	step := int(t.RampingRate)
	floor := int(t.MinPower)

	if m.SetPower == 0 {
		if cur != 0 {
			cur = clamp(cur-step, 0, 255)
		}
		m.CurrentPower = uint8(cur)
		return nil
	}

	if m.out.Reverse() == (m.Control&Direction != 0) {
		if cur < scaled {
			cur = clamp(cur+step, floor, scaled)
		} else if cur > scaled {
			cur = clamp(cur-step, scaled, 255)
		}
		m.CurrentPower = uint8(cur)
		return nil
	}

	// Output polarity disagrees with the commanded direction: slow to the floor before
	// reversing so a spinning motor is never plugged straight into reverse.
	cur = clamp(cur-step, floor, 255)
	m.CurrentPower = uint8(cur)
	if cur == floor {
		m.log.Debug("Ramped down to minimum power, reversing")
		return m.applyDirection()
	}
	return nil
}

func (m *Motor) applyPower() error {
	if m.CurrentPower != 0 {
		return m.output(m.out.Drive(m.CurrentPower))
	}
	if err := m.output(m.out.Drive(0)); err != nil {
		return err
	}
	if m.Control&Brake != 0 && m.SetPower == 0 {
		return m.output(m.out.Brake())
	}
	return m.applyDirection()
}

func (m *Motor) applyDirection() error {
	return m.output(m.out.SetReverse(m.Control&Direction != 0))
}

func (m *Motor) output(err error) error {
	return errors.Wrapf(err, "motor %s", m.Name)
}

// ScalePower maps a requested power from 0..255 into min..255 with the integer
// arithmetic of Arduino's map(). Zero stays zero.
func ScalePower(power, min uint8) uint8 {
	if power == 0 {
		return 0
	}
	return uint8(int(power)*(255-int(min))/255 + int(min))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
