package channel

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// DefaultFrequency is 8-bit fast PWM from a 16MHz clock with no prescaler.
const DefaultFrequency = 62500 * physic.Hertz

// Channel is the output side of one motor: an H-bridge with a speed input and two
// direction inputs. The control loop only ever talks to a Channel, never to pins.
type Channel interface {
	// Drive sets the speed input. 0 stops modulation and pulls the input low, 255 drives
	// it fully high without modulation, anything else is a PWM duty out of 255.
	Drive(duty uint8) error
	// SetReverse sets the direction inputs. Reverse drives the high side input high.
	SetReverse(reverse bool) error
	// Reverse reports the polarity currently present on the direction inputs.
	Reverse() bool
	// Brake shorts the motor terminals.
	Brake() error
}

// Pins names the three bridge inputs of one motor.
type Pins struct {
	Speed gpio.PinOut
	High  gpio.PinOut
	Low   gpio.PinOut
}

type Bridge struct {
	pins      Pins
	frequency physic.Frequency

	lock    sync.Mutex
	duty    uint8
	reverse bool
}

func NewBridge(pins Pins, frequency physic.Frequency) (*Bridge, error) {
	if pins.Speed == nil || pins.High == nil || pins.Low == nil {
		return nil, errors.New("channel: all three bridge pins are required")
	}
	if frequency == 0 {
		frequency = DefaultFrequency
	}
	b := &Bridge{
		pins:      pins,
		frequency: frequency,
	}
	// Power up coasting, forward.
	if err := pins.Speed.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "channel: init %s", pins.Speed)
	}
	if err := b.SetReverse(false); err != nil {
		return nil, err
	}
	return b, nil
}

var _ Channel = (*Bridge)(nil)

func (b *Bridge) Drive(duty uint8) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	var err error
	switch duty {
	case 0:
		err = b.pins.Speed.Out(gpio.Low)
	case 255:
		err = b.pins.Speed.Out(gpio.High)
	default:
		err = b.pins.Speed.PWM(DutyFromByte(duty), b.frequency)
	}
	if err != nil {
		return errors.Wrapf(err, "channel: drive %s at %d", b.pins.Speed, duty)
	}
	b.duty = duty
	return nil
}

func (b *Bridge) SetReverse(reverse bool) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if err := b.pins.High.Out(gpio.Level(reverse)); err != nil {
		return errors.Wrapf(err, "channel: set %s", b.pins.High)
	}
	if err := b.pins.Low.Out(gpio.Level(!reverse)); err != nil {
		return errors.Wrapf(err, "channel: set %s", b.pins.Low)
	}
	b.reverse = reverse
	return nil
}

func (b *Bridge) Reverse() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.reverse
}

func (b *Bridge) Brake() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, p := range []gpio.PinOut{b.pins.Speed, b.pins.High, b.pins.Low} {
		if err := p.Out(gpio.High); err != nil {
			return errors.Wrapf(err, "channel: brake %s", p)
		}
	}
	// The high side input is now high, which reads back as reverse polarity.
	b.reverse = true
	b.duty = 255
	return nil
}

// Duty returns the last duty written to the speed input.
func (b *Bridge) Duty() uint8 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.duty
}

// DutyFromByte maps an 8-bit duty onto periph's 24-bit duty range.
func DutyFromByte(duty uint8) gpio.Duty {
	return gpio.Duty(uint64(duty) * uint64(gpio.DutyMax) / 255)
}

func Dummy(name string) Channel {
	return &dummyChannel{name: name}
}

type dummyChannel struct {
	name    string
	reverse bool
}

func (d *dummyChannel) Drive(duty uint8) error {
	fmt.Printf("Dummy channel %s drive=%d\n", d.name, duty)
	return nil
}

func (d *dummyChannel) SetReverse(reverse bool) error {
	fmt.Printf("Dummy channel %s reverse=%v\n", d.name, reverse)
	d.reverse = reverse
	return nil
}

func (d *dummyChannel) Reverse() bool {
	return d.reverse
}

func (d *dummyChannel) Brake() error {
	fmt.Printf("Dummy channel %s brake\n", d.name)
	d.reverse = true
	return nil
}
