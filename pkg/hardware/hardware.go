package hardware

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/board"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
)

// EncoderPins are the two quadrature phases of one encoder. Leave them nil when
// something else drives the counters, such as a simulated plant.
type EncoderPins struct {
	A, B gpio.PinIn
}

type Config struct {
	Board    board.Config
	Outputs  [2]channel.Channel
	Encoders [2]EncoderPins
	// ADC is optional; without it the current registers stay at zero.
	ADC       current.ADC
	ADCPeriod time.Duration
	Store     settings.Store
}

// Hardware wires the board loop to its pins, sampler and bus.
type Hardware struct {
	*Slave

	cfg     Config
	encs    [2]*encoder.Counter
	sampler *current.Sampler
	ctrl    *Controller

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func New(cfg Config) *Hardware {
	if cfg.Board.Map == nil {
		cfg.Board.Map = regmap.V2
	}
	// The ticker and the rate calculation must agree on the tick rate.
	if cfg.Board.Timebase.RefreshHz <= 0 {
		cfg.Board.Timebase.RefreshHz = motor.DefaultTimebase().RefreshHz
	}
	h := &Hardware{
		cfg:  cfg,
		encs: [2]*encoder.Counter{new(encoder.Counter), new(encoder.Counter)},
	}
	if cfg.ADC != nil {
		h.sampler = current.NewSampler(cfg.ADC)
	}
	h.ctrl = NewController(h.build, time.Duration(float64(time.Second)/cfg.Board.Timebase.RefreshHz))
	h.Slave = NewSlave(cfg.Board.Map, h.ctrl)
	return h
}

// build makes a board in its power-on state.
func (h *Hardware) build() *board.Board {
	for _, c := range h.encs {
		c.Store(0)
	}
	b := board.New(h.cfg.Board, h.cfg.Outputs, h.encs, h.cfg.Store)
	if h.sampler != nil {
		b.SetCurrentSampler(h.sampler)
	}
	b.Start()
	return b
}

// Start launches the board loop and its helpers and returns once the board is up.
func (h *Hardware) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	for i, pins := range h.cfg.Encoders {
		if pins.A == nil || pins.B == nil {
			continue
		}
		h.done.Add(1)
		go func(c *encoder.Counter, pins EncoderPins, i int) {
			defer h.done.Done()
			if err := c.Watch(ctx, pins.A, pins.B); err != nil && err != context.Canceled {
				log.WithError(err).WithField("motor", i+1).Error("Encoder watch failed")
			}
		}(h.encs[i], pins, i)
	}

	if h.sampler != nil {
		period := h.cfg.ADCPeriod
		if period <= 0 {
			period = time.Millisecond
		}
		h.done.Add(1)
		go func() {
			defer h.done.Done()
			h.sampler.Run(ctx, period)
		}()
	}

	var initDone sync.WaitGroup
	initDone.Add(1)
	h.done.Add(1)
	go func() {
		defer h.done.Done()
		h.ctrl.Loop(ctx, &initDone)
	}()
	initDone.Wait()
}

func (h *Hardware) Encoders() [2]*encoder.Counter {
	return h.encs
}

func (h *Hardware) Controller() *Controller {
	return h.ctrl
}

// Shutdown stops every goroutine Start launched. The outputs are left off.
func (h *Hardware) Shutdown() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.done.Wait()
	h.cancel = nil
}
