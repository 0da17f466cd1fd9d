// Package ina219 reads the INA219 high-side current monitors that sense each motor's
// supply current.
package ina219

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/io/i2c"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
)

const (
	Addr1 = 0x41
	Addr2 = 0x44
)

// Registers.
const (
	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5
)

const (
	// BusVoltageLSB is 4mV; the bus voltage register is left-aligned by three bits.
	BusVoltageLSB = 0.004
	// calibrationScale is the fixed 0.04096 from the datasheet's calibration equation.
	calibrationScale = 0.04096
)

type Interface interface {
	Configure(shuntOhms, maxCurrent float64) error
	BusVoltage() (float64, error)
	// CurrentRaw is the signed current register in units of the calibrated LSB.
	CurrentRaw() (int16, error)
	Amps() (float64, error)
	Close() error
}

type port interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type INA219 struct {
	dev        port
	currentLSB float64
}

func NewI2C(deviceFile string, addr int) (*INA219, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "ina219: open %s:%#x", deviceFile, addr)
	}
	return &INA219{dev: dev}, nil
}

// Configure programs the calibration so that full scale on the current register is
// maxCurrent through a shunt of shuntOhms.
func (m *INA219) Configure(shuntOhms, maxCurrent float64) error {
	m.currentLSB = maxCurrent / (1 << 15)
	cal := Calibration(m.currentLSB, shuntOhms)
	log.WithFields(log.Fields{"value": cal, "lsb": m.currentLSB}).Debug("INA219 calibration")
	return m.write16(RegCalibration, uint16(cal))
}

func (m *INA219) BusVoltage() (float64, error) {
	raw, err := m.read16(RegBusV)
	return float64(raw>>3) * BusVoltageLSB, err
}

func (m *INA219) CurrentRaw() (int16, error) {
	raw, err := m.read16(RegCurrent)
	return int16(raw), err
}

func (m *INA219) Amps() (float64, error) {
	raw, err := m.CurrentRaw()
	return float64(raw) * m.currentLSB, err
}

func (m *INA219) Close() error {
	return m.dev.Close()
}

func (m *INA219) read16(reg byte) (uint16, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "ina219: read register %d", reg)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (m *INA219) write16(reg byte, v uint16) error {
	return errors.Wrapf(m.dev.WriteReg(reg, []byte{byte(v >> 8), byte(v)}), "ina219: write register %d", reg)
}

func Calibration(currentLSB, shuntOhms float64) int16 {
	return int16(calibrationScale / (currentLSB * shuntOhms))
}

// Pair is one sensor per motor, read as the two channels of a current.ADC. The motor
// current registers carry magnitude only.
type Pair [2]Interface

var _ current.ADC = Pair{}

func (p Pair) Convert(ch int) (uint16, error) {
	if ch < 0 || ch >= len(p) || p[ch] == nil {
		return 0, errors.Errorf("ina219: no sensor on channel %d", ch)
	}
	raw, err := p[ch].CurrentRaw()
	if err != nil {
		return 0, err
	}
	if raw < 0 {
		return uint16(-int32(raw)), nil
	}
	return uint16(raw), nil
}

// LogSupply logs the bus voltage seen by each fitted sensor.
func (p Pair) LogSupply() {
	for i, s := range p {
		if s == nil {
			continue
		}
		v, err := s.BusVoltage()
		if err != nil {
			log.WithError(err).WithField("motor", i+1).Warn("Failed to read supply voltage")
			continue
		}
		log.WithFields(log.Fields{"motor": i + 1, "volts": v}).Info("Motor supply")
	}
}

func (p Pair) Close() error {
	var first error
	for _, s := range p {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
