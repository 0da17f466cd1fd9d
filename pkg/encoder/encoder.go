package encoder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
)

// Counter accumulates quadrature ticks for one motor. Edge is the only writer during
// normal operation; the control loop samples it with Load once per tick.
type Counter struct {
	ticks    atomic.Int32
	disabled atomic.Bool
}

// SetEnabled masks or unmasks edge counting. A new Counter counts.
func (c *Counter) SetEnabled(on bool) {
	c.disabled.Store(!on)
}

// Edge records one edge of phase A. The companion phase level at the instant of the
// edge gives the direction of rotation.
func (c *Counter) Edge(companion gpio.Level) {
	if c.disabled.Load() {
		return
	}
	if companion == gpio.High {
		c.ticks.Add(1)
	} else {
		c.ticks.Add(-1)
	}
}

func (c *Counter) Load() int32 {
	return c.ticks.Load()
}

// Store overwrites the count, used when the bus master writes the encoder register.
func (c *Counter) Store(v int32) {
	c.ticks.Store(v)
}

// edgePoll bounds how long Watch blocks before re-checking its context.
const edgePoll = 50 * time.Millisecond

// Watch services the edge interrupt of phase A until ctx is done, reading phase B on
// every rising edge.
func (c *Counter) Watch(ctx context.Context, a, b gpio.PinIn) error {
	if err := b.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return errors.Wrapf(err, "encoder: configure %s", b)
	}
	if err := a.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return errors.Wrapf(err, "encoder: configure %s", a)
	}
	defer func() {
		_ = a.In(gpio.PullNoChange, gpio.NoEdge)
	}()

	log.WithField("pin", a.String()).Debug("Encoder watch started")
	for ctx.Err() == nil {
		if !a.WaitForEdge(edgePoll) {
			continue
		}
		c.Edge(b.Read())
	}
	return ctx.Err()
}
