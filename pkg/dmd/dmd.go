// Package dmd is the bus master side of the dual motor driver: it reads and writes the
// board's registers over I2C.
package dmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
)

const DefaultAddr = 0x03

type Interface interface {
	SetControl(m int, f motor.Flags) error
	Control(m int) (motor.Flags, error)
	SetPower(m int, power uint8) error
	Power(m int) (uint8, error)
	SetTargetRate(m int, rate int16) error
	Rate(m int) (int16, error)
	SetEncoder(m int, v int32) error
	Encoder(m int) (int32, error)
	Current(m int) (uint16, error)
	SetGains(kp, ki, kd float32) error
	Gains() (kp, ki, kd float32, err error)
	SetRamping(rate, minPower uint8) error
	SetAddress(addr uint8) error
	SaveSettings(groups settings.Group) error
	LoadSettings() error
	Reset() error
	Stop() error
	Close() error
}

// Port is a connection to one device on the bus. *i2c.Device satisfies it.
type Port interface {
	Write(buf []byte) error
	ReadReg(reg byte, buf []byte) error
	Close() error
}

type DMD struct {
	dev    Port
	m      *regmap.Map
	reopen func() (Port, error)
}

var _ Interface = (*DMD)(nil)

// New opens the board at addr on the given i2c device file, e.g. /dev/i2c-1.
func New(devFile string, addr int, m *regmap.Map) (*DMD, error) {
	open := func() (Port, error) {
		return i2c.Open(&i2c.Devfs{Dev: devFile}, addr)
	}
	dev, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "dmd: open %s:%#x", devFile, addr)
	}
	d := NewWithPort(dev, m)
	d.reopen = open
	return d, nil
}

func NewWithPort(p Port, m *regmap.Map) *DMD {
	if m == nil {
		m = regmap.V2
	}
	return &DMD{dev: p, m: m}
}

var ErrUnsupported = errors.New("register not present in this map")

func (d *DMD) addr(f regmap.Field, motorIdx int) (byte, regmap.Entry, error) {
	a, ok := d.m.Addr(f, motorIdx)
	if !ok {
		return 0, regmap.Entry{}, errors.Wrapf(ErrUnsupported, "dmd: field %d motor %d, map %s", f, motorIdx+1, d.m.Version)
	}
	e, _ := d.m.Lookup(a)
	return a, e, nil
}

func (d *DMD) writeField(f regmap.Field, motorIdx int, v uint32) error {
	a, e, err := d.addr(f, motorIdx)
	if err != nil {
		return err
	}
	unit := regmap.Encode(e.Kind, v)
	return d.writeWithRetries(append([]byte{a}, unit[:e.Kind.Width()]...))
}

func (d *DMD) readField(f regmap.Field, motorIdx int) (uint32, error) {
	a, e, err := d.addr(f, motorIdx)
	if err != nil {
		return 0, err
	}
	var buf [regmap.TransferUnit]byte
	if err := d.dev.ReadReg(a, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "dmd: read %s", e.Name)
	}
	return regmap.Decode(e.Kind, buf[:]), nil
}

func (d *DMD) SetControl(m int, f motor.Flags) error {
	return d.writeField(regmap.FieldControl, m, uint32(f))
}

func (d *DMD) Control(m int) (motor.Flags, error) {
	v, err := d.readField(regmap.FieldControl, m)
	return motor.Flags(v), err
}

func (d *DMD) SetPower(m int, power uint8) error {
	return d.writeField(regmap.FieldPower, m, uint32(power))
}

func (d *DMD) Power(m int) (uint8, error) {
	v, err := d.readField(regmap.FieldPower, m)
	return uint8(v), err
}

func (d *DMD) SetTargetRate(m int, rate int16) error {
	return d.writeField(regmap.FieldRate, m, uint32(uint16(rate)))
}

func (d *DMD) Rate(m int) (int16, error) {
	v, err := d.readField(regmap.FieldRate, m)
	return int16(v), err
}

func (d *DMD) SetEncoder(m int, v int32) error {
	return d.writeField(regmap.FieldEncoder, m, uint32(v))
}

func (d *DMD) Encoder(m int) (int32, error) {
	v, err := d.readField(regmap.FieldEncoder, m)
	return int32(v), err
}

func (d *DMD) Current(m int) (uint16, error) {
	v, err := d.readField(regmap.FieldCurrent, m)
	return uint16(v), err
}

func (d *DMD) SetGains(kp, ki, kd float32) error {
	for _, g := range []struct {
		f regmap.Field
		v float32
	}{{regmap.FieldKP, kp}, {regmap.FieldKI, ki}, {regmap.FieldKD, kd}} {
		if err := d.writeField(g.f, 0, regmap.FloatBits(g.v)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DMD) Gains() (kp, ki, kd float32, err error) {
	var v uint32
	if v, err = d.readField(regmap.FieldKP, 0); err != nil {
		return
	}
	kp = regmap.BitsFloat(v)
	if v, err = d.readField(regmap.FieldKI, 0); err != nil {
		return
	}
	ki = regmap.BitsFloat(v)
	if v, err = d.readField(regmap.FieldKD, 0); err != nil {
		return
	}
	kd = regmap.BitsFloat(v)
	return
}

func (d *DMD) SetRamping(rate, minPower uint8) error {
	if err := d.writeField(regmap.FieldRampingRate, 0, uint32(rate)); err != nil {
		return err
	}
	return d.writeField(regmap.FieldMinPower, 0, uint32(minPower))
}

// SetAddress moves the board to a new bus address. The board saves it immediately; the
// caller must reopen at the new address.
func (d *DMD) SetAddress(addr uint8) error {
	return d.writeField(regmap.FieldDeviceAddress, 0, uint32(addr&0x7f))
}

func (d *DMD) SaveSettings(groups settings.Group) error {
	return d.writeField(regmap.FieldSettingsSave, 0, uint32(groups))
}

func (d *DMD) LoadSettings() error {
	return d.command(regmap.FieldSettingsLoad)
}

func (d *DMD) Reset() error {
	return d.command(regmap.FieldReset)
}

func (d *DMD) command(f regmap.Field) error {
	a, _, err := d.addr(f, 0)
	if err != nil {
		return err
	}
	return d.writeWithRetries([]byte{a})
}

// Stop puts both motors into raw mode at zero power.
func (d *DMD) Stop() error {
	for m := 0; m < 2; m++ {
		if err := d.SetControl(m, 0); err != nil {
			return err
		}
		if err := d.SetPower(m, 0); err != nil {
			return err
		}
	}
	return nil
}

func (d *DMD) Close() error {
	_ = d.Stop()
	return d.dev.Close()
}

func (d *DMD) writeWithRetries(data []byte) error {
	var err error
	for tries := 0; tries < 20; tries++ {
		err = d.dev.Write(data)
		if err == nil {
			if tries > 0 {
				log.WithField("tries", tries+1).Info("Successfully wrote to motor driver after retries")
			}
			return nil
		}
		log.WithError(err).Warn("Failed to write to motor driver")
		if d.reopen == nil {
			return errors.Wrap(err, "dmd: write")
		}
		time.Sleep(1 * time.Millisecond)
		_ = d.dev.Close()
		dev, err := d.reopen()
		if err != nil {
			continue
		}
		d.dev = dev
	}
	panic(fmt.Sprintf("Failed to write to motor driver: %v", err))
}

func Dummy() Interface {
	return &dummyDMD{}
}

type dummyDMD struct {
	control [2]motor.Flags
	power   [2]uint8
	rate    [2]int16
	enc     [2]int32
	gains   [3]float32
}

func (p *dummyDMD) SetControl(m int, f motor.Flags) error {
	fmt.Printf("Dummy dmd setting M%d control=%v\n", m+1, f)
	p.control[m] = f
	return nil
}

func (p *dummyDMD) Control(m int) (motor.Flags, error) { return p.control[m], nil }

func (p *dummyDMD) SetPower(m int, power uint8) error {
	fmt.Printf("Dummy dmd setting M%d power=%v\n", m+1, power)
	p.power[m] = power
	return nil
}

func (p *dummyDMD) Power(m int) (uint8, error) { return p.power[m], nil }

func (p *dummyDMD) SetTargetRate(m int, rate int16) error {
	fmt.Printf("Dummy dmd setting M%d rate=%v\n", m+1, rate)
	p.rate[m] = rate
	return nil
}

func (p *dummyDMD) Rate(m int) (int16, error)             { return p.rate[m], nil }
func (p *dummyDMD) SetEncoder(m int, v int32) error       { p.enc[m] = v; return nil }
func (p *dummyDMD) Encoder(m int) (int32, error)          { return p.enc[m], nil }
func (p *dummyDMD) Current(m int) (uint16, error)         { return 0, nil }
func (p *dummyDMD) SetRamping(rate, minPower uint8) error { return nil }
func (p *dummyDMD) SetAddress(addr uint8) error           { return nil }
func (p *dummyDMD) SaveSettings(settings.Group) error     { return nil }
func (p *dummyDMD) LoadSettings() error                   { return nil }
func (p *dummyDMD) Reset() error                          { return nil }
func (p *dummyDMD) Stop() error                           { p.power = [2]uint8{}; p.control = [2]motor.Flags{}; return nil }
func (p *dummyDMD) Close() error                          { return nil }

func (p *dummyDMD) SetGains(kp, ki, kd float32) error {
	p.gains = [3]float32{kp, ki, kd}
	return nil
}

func (p *dummyDMD) Gains() (kp, ki, kd float32, err error) {
	return p.gains[0], p.gains[1], p.gains[2], nil
}
