package pca9685

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.
	RegTestMode = 0xff

	PWMMax = 4095

	// Setting bit 4 of the on-time high byte forces an output fully on; the same bit in
	// the off-time high byte forces it fully off.
	fullBit = 0x10

	oscillator = 25 * physic.MegaHertz

	NumPorts = 16
)

type port interface {
	WriteReg(reg byte, buf []byte) (err error)
	Close() error
}

// PCA9685 is a 16 channel PWM generator. All channels share one frequency.
type PCA9685 struct {
	lock sync.Mutex
	dev  port
	freq physic.Frequency
}

func New(deviceFile string) (*PCA9685, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, DefaultAddr)
	if err != nil {
		return nil, err
	}
	return &PCA9685{
		dev: dev,
	}, nil
}

func Prescale(f physic.Frequency) byte {
	p := math.Round(float64(oscillator)/float64(4096*f)) - 1
	if p < 3 {
		p = 3
	}
	if p > 255 {
		p = 255
	}
	return byte(p)
}

func (p *PCA9685) Configure(f physic.Frequency) (err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	// Put device to sleep.
	err = p.dev.WriteReg(RegMode1, []byte{0x11})
	if err != nil {
		return
	}
	err = p.dev.WriteReg(RegPreScale, []byte{Prescale(f)})
	if err != nil {
		return
	}
	// Trigger a reset
	err = p.dev.WriteReg(RegMode1, []byte{0x01})
	if err != nil {
		return
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable, with register auto-increment.
	err = p.dev.WriteReg(RegMode1, []byte{0xa1})
	if err == nil {
		p.freq = f
	}
	return
}

func (p *PCA9685) write(port int, on, off uint16) error {
	if port < 0 || port >= NumPorts {
		return fmt.Errorf("pca9685: port %d out of range", port)
	}
	addr := RegLEDBase + port*4
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.dev.WriteReg(byte(addr), []byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)})
}

func (p *PCA9685) SetPWM(port int, value float64) error {
	if value <= 0 {
		return p.write(port, 0, fullBit<<8)
	}
	if value >= 1 {
		return p.write(port, fullBit<<8, 0)
	}
	return p.write(port, 0, uint16(PWMMax*value))
}

func (p *PCA9685) Close() error {
	return p.dev.Close()
}

// Pin exposes one output as a periph gpio.PinOut so an H-bridge can be driven from it.
func (p *PCA9685) Pin(port int) *Pin {
	return &Pin{chip: p, port: port}
}

type Pin struct {
	chip *PCA9685
	port int
}

var _ gpio.PinOut = (*Pin)(nil)

func (o *Pin) String() string   { return o.Name() }
func (o *Pin) Name() string     { return fmt.Sprintf("PCA9685_%d", o.port) }
func (o *Pin) Number() int      { return o.port }
func (o *Pin) Function() string { return "Out/PWM" }
func (o *Pin) Halt() error      { return nil }

func (o *Pin) Out(l gpio.Level) error {
	if l == gpio.High {
		return o.chip.SetPWM(o.port, 1)
	}
	return o.chip.SetPWM(o.port, 0)
}

// PWM sets the duty cycle. The frequency is fixed chip-wide by Configure; asking for a
// different one is an error.
func (o *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	if f != 0 && o.chip.freq != 0 && Prescale(f) != Prescale(o.chip.freq) {
		return errors.Errorf("pca9685: %s configured for %s, not %s", o, o.chip.freq, f)
	}
	return o.chip.SetPWM(o.port, float64(duty)/float64(gpio.DutyMax))
}
