package hardware

import (
	"context"
	"time"
)

// Loopback lets an in-process bus master talk to a Bus as if over I2C. It satisfies
// dmd.Port.
type Loopback struct {
	bus     Bus
	timeout time.Duration
}

func NewLoopback(bus Bus) *Loopback {
	return &Loopback{bus: bus, timeout: time.Second}
}

func (l *Loopback) Write(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return l.bus.Receive(ctx, buf)
}

// ReadReg selects reg with a one byte write, then reads from it.
func (l *Loopback) ReadReg(reg byte, buf []byte) error {
	if err := l.Write([]byte{reg}); err != nil {
		return err
	}
	unit := l.bus.Request()
	copy(buf, unit[:])
	return nil
}

func (l *Loopback) Close() error {
	return nil
}
