// Package mux switches the downstream port of a TCA9548A I2C multiplexer, used when the
// bench board's sensors and PWM expander sit behind one.
package mux

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/io/i2c"
)

const (
	Addr     = 0x70
	NumPorts = 8

	// None is reported by Selected when every port is disconnected.
	None = -1
)

type Interface interface {
	// Select connects exactly one downstream port.
	Select(port int) error
	// Release disconnects every downstream port.
	Release() error
	Selected() int
	Close() error
}

type port interface {
	Write(buf []byte) error
	Close() error
}

// Mux remembers the port it last connected so repeated selects cost no bus traffic.
type Mux struct {
	lock     sync.Mutex
	dev      port
	selected int
}

var _ Interface = (*Mux)(nil)

func New(deviceFile string) (*Mux, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "mux: open %s", deviceFile)
	}
	return newMux(dev), nil
}

func newMux(dev port) *Mux {
	return &Mux{dev: dev, selected: None}
}

func (m *Mux) Select(p int) error {
	if p < 0 || p >= NumPorts {
		return errors.Errorf("mux: port %d out of range 0-%d", p, NumPorts-1)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.selected == p {
		return nil
	}
	if err := m.dev.Write([]byte{1 << uint(p)}); err != nil {
		m.selected = None
		return errors.Wrapf(err, "mux: select port %d", p)
	}
	log.WithField("port", p).Debug("Mux port connected")
	m.selected = p
	return nil
}

func (m *Mux) Release() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.release()
}

func (m *Mux) release() error {
	if err := m.dev.Write([]byte{0}); err != nil {
		return errors.Wrap(err, "mux: release ports")
	}
	m.selected = None
	return nil
}

func (m *Mux) Selected() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.selected
}

// Close leaves every port disconnected before giving up the device.
func (m *Mux) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.release(); err != nil {
		log.WithError(err).Warn("Failed to release mux ports on close")
	}
	return m.dev.Close()
}

func Dummy() Interface {
	return &dummyMux{selected: None}
}

type dummyMux struct {
	selected int
}

func (d *dummyMux) Select(p int) error {
	fmt.Printf("Dummy mux connecting port %d\n", p)
	d.selected = p
	return nil
}

func (d *dummyMux) Release() error {
	fmt.Println("Dummy mux releasing ports")
	d.selected = None
	return nil
}

func (d *dummyMux) Selected() int { return d.selected }
func (d *dummyMux) Close() error  { return nil }
