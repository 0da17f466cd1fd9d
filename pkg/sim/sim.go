// Package sim is a first-order model of two brushed DC motors with quadrature encoders
// and current sense. It stands in for the bridge, the encoders and the ADC when there
// is no board on the bench.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
)

type Params struct {
	// FreeSpeed is the no-load speed at full drive, in revolutions per second.
	FreeSpeed float64
	// TimeConstant is how long the motor takes to reach 63% of a speed step.
	TimeConstant time.Duration
	// BrakeTimeConstant applies while the terminals are shorted.
	BrakeTimeConstant time.Duration
	TicksPerRev       float64
	// StallCurrent is the raw current reading at full drive with the shaft held.
	StallCurrent float64
}

func DefaultParams() Params {
	return Params{
		FreeSpeed:         3,
		TimeConstant:      50 * time.Millisecond,
		BrakeTimeConstant: 10 * time.Millisecond,
		TicksPerRev:       48,
		StallCurrent:      2000,
	}
}

// Motor is one simulated motor. It satisfies channel.Channel.
type Motor struct {
	lock    sync.Mutex
	params  Params
	enc     *encoder.Counter
	duty    uint8
	reverse bool
	braking bool

	// speed in revolutions per second, positive forwards.
	speed float64
	// fractional ticks not yet delivered to the encoder.
	phase float64
}

var _ channel.Channel = (*Motor)(nil)

func (m *Motor) Drive(duty uint8) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.duty = duty
	m.braking = false
	return nil
}

func (m *Motor) SetReverse(reverse bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reverse = reverse
	m.braking = false
	return nil
}

func (m *Motor) Reverse() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.reverse
}

func (m *Motor) Brake() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.braking = true
	m.reverse = true
	m.duty = 255
	return nil
}

// Speed is in revolutions per second.
func (m *Motor) Speed() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.speed
}

func (m *Motor) drive() float64 {
	if m.braking {
		return 0
	}
	v := float64(m.duty) / 255
	if m.reverse {
		v = -v
	}
	return v
}

func (m *Motor) step(dt time.Duration) {
	m.lock.Lock()
	tau := m.params.TimeConstant
	if m.braking {
		tau = m.params.BrakeTimeConstant
	}
	target := m.params.FreeSpeed * m.drive()
	if tau > 0 {
		m.speed += (target - m.speed) * (1 - math.Exp(-dt.Seconds()/tau.Seconds()))
	} else {
		m.speed = target
	}
	ticks := m.speed*m.params.TicksPerRev*dt.Seconds() + m.phase
	whole := math.Trunc(ticks)
	m.phase = ticks - whole
	enc := m.enc
	m.lock.Unlock()

	if enc == nil {
		return
	}
	// Phase B leads A when running forwards.
	for n := whole; n > 0; n-- {
		enc.Edge(gpio.High)
	}
	for n := whole; n < 0; n++ {
		enc.Edge(gpio.Low)
	}
}

// current is the magnitude of drive voltage minus back EMF, both as fractions of full
// scale.
func (m *Motor) current() uint16 {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.braking {
		return uint16(math.Min(math.Abs(m.speed/m.params.FreeSpeed)*m.params.StallCurrent, math.MaxUint16))
	}
	i := math.Abs(m.drive()-m.speed/m.params.FreeSpeed) * m.params.StallCurrent
	return uint16(math.Min(i, math.MaxUint16))
}

// Plant is a pair of motors. It satisfies current.ADC.
type Plant struct {
	Motors [2]*Motor
}

var _ current.ADC = (*Plant)(nil)

func New(p Params) *Plant {
	return &Plant{Motors: [2]*Motor{{params: p}, {params: p}}}
}

// AttachEncoders routes each motor's shaft ticks to a counter.
func (p *Plant) AttachEncoders(encs [2]*encoder.Counter) {
	for i, m := range p.Motors {
		m.lock.Lock()
		m.enc = encs[i]
		m.lock.Unlock()
	}
}

func (p *Plant) Channels() [2]channel.Channel {
	return [2]channel.Channel{p.Motors[0], p.Motors[1]}
}

func (p *Plant) Convert(ch int) (uint16, error) {
	if ch < 0 || ch >= len(p.Motors) {
		return 0, errors.Errorf("sim: no channel %d", ch)
	}
	return p.Motors[ch].current(), nil
}

// Step advances both motors by dt.
func (p *Plant) Step(dt time.Duration) {
	for _, m := range p.Motors {
		m.step(dt)
	}
}

// Run steps the plant in real time until ctx is done.
func (p *Plant) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Step(now.Sub(last))
			last = now
		}
	}
}
