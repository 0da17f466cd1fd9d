// Package board ties two motors, their encoders, the current sampler and the settings
// store into the register-level device the bus talks to.
package board

import (
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
)

// ErrReset is returned by Commit when the master asked for a reset. The owner must
// discard the board and build a fresh one.
var ErrReset = errors.New("board: reset requested")

type Config struct {
	Map      *regmap.Map
	Timebase motor.Timebase
}

// Board is owned by a single goroutine. Only Image and OutputErrors may be called from
// others.
type Board struct {
	cfg     Config
	motors  [2]*motor.Motor
	tun     motor.Tunables
	store   settings.Store
	sampler *current.Sampler
	lastSeq [2]uint32

	seq          uint64
	image        atomic.Pointer[regmap.Image]
	outputErrors atomic.Uint64
}

func New(cfg Config, outs [2]channel.Channel, encs [2]*encoder.Counter, store settings.Store) *Board {
	if cfg.Map == nil {
		cfg.Map = regmap.V2
	}
	if cfg.Timebase.RateScale == 0 {
		cfg.Timebase.RateScale = cfg.Map.RateScale
	}
	b := &Board{
		cfg:   cfg,
		tun:   motor.DefaultTunables(),
		store: store,
	}
	for i, name := range []string{"M1", "M2"} {
		b.motors[i] = motor.New(name, 0, cfg.Timebase, outs[i], encs[i])
	}
	b.publish()
	return b
}

// SetCurrentSampler attaches the ADC sampler whose readings feed the current registers.
func (b *Board) SetCurrentSampler(s *current.Sampler) {
	b.sampler = s
}

// Start loads persisted settings and brings both motors to their stored mode.
func (b *Board) Start() {
	b.loadSettings()
	b.publish()
	log.WithFields(log.Fields{
		"address": b.tun.Address,
		"map":     b.cfg.Map.Version.String(),
	}).Info("Board started")
}

// Tick runs one control period.
func (b *Board) Tick() {
	b.drainCurrent()
	for _, m := range b.motors {
		if !m.Control.Ticked() {
			continue
		}
		b.check(m.Tick(b.tun))
	}
	b.publish()
}

// Commit applies one decoded write transaction.
func (b *Board) Commit(batch busproto.Batch) error {
	for _, in := range batch.Intents {
		b.apply(in)
	}

	if e, ok := b.cfg.Map.Lookup(batch.Final); ok {
		switch e.Field {
		case regmap.FieldSettingsLoad:
			b.loadSettings()
		case regmap.FieldReset:
			log.Info("Reset requested over the bus")
			return ErrReset
		}
	}

	for _, f := range []regmap.Field{regmap.FieldControl, regmap.FieldPower} {
		for i, m := range b.motors {
			addr, ok := b.cfg.Map.Addr(f, i)
			if !ok || !batch.Has(addr) {
				continue
			}
			if f == regmap.FieldControl {
				b.check(m.UpdateControl(b.tun))
			} else {
				b.check(m.Refresh(b.tun))
			}
		}
	}

	b.drainCurrent()
	b.publish()
	return nil
}

func (b *Board) apply(in busproto.Intent) {
	e := in.Entry
	m := b.motors[e.Motor]
	switch e.Field {
	case regmap.FieldControl:
		m.Control = motor.Flags(in.Value)
	case regmap.FieldPower:
		m.SetPower = uint8(in.Value)
	case regmap.FieldEncoder:
		m.SetEncoder(int32(in.Value))
	case regmap.FieldRate:
		m.TargetRate = int16(in.Value)
	case regmap.FieldKP:
		b.tun.KP = regmap.BitsFloat(in.Value)
	case regmap.FieldKI:
		b.tun.KI = regmap.BitsFloat(in.Value)
	case regmap.FieldKD:
		b.tun.KD = regmap.BitsFloat(in.Value)
	case regmap.FieldRampingRate:
		b.tun.RampingRate = uint8(in.Value)
	case regmap.FieldMinPower:
		b.tun.MinPower = uint8(in.Value)
	case regmap.FieldDeviceAddress:
		b.tun.Address = uint8(in.Value) & 0x7f
		b.save(settings.GroupAddress)
	case regmap.FieldSettingsSave:
		b.save(settings.Group(in.Value))
	}
}

// Snapshot is the persistable part of the board state.
func (b *Board) Snapshot() settings.Snapshot {
	return settings.Snapshot{
		Control:  [2]motor.Flags{b.motors[0].Control, b.motors[1].Control},
		Tunables: b.tun,
	}
}

func (b *Board) save(groups settings.Group) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(groups, b.Snapshot()); err != nil {
		log.WithError(err).Warn("Failed to save settings")
	}
}

func (b *Board) loadSettings() {
	s := settings.Defaults()
	if b.store != nil {
		var err error
		s, err = b.store.Load()
		if err != nil {
			log.WithError(err).Warn("Failed to load settings, using defaults")
			s = settings.Defaults()
		}
	}
	b.tun = s.Tunables
	for i, m := range b.motors {
		m.Control = s.Control[i]
		b.check(m.UpdateControl(b.tun))
	}
}

func (b *Board) drainCurrent() {
	if b.sampler == nil {
		return
	}
	for i, m := range b.motors {
		r := b.sampler.Latest(i)
		if r.Seq == b.lastSeq[i] {
			continue
		}
		b.lastSeq[i] = r.Seq
		m.SetCurrentDraw(r.Raw)
	}
}

func (b *Board) check(err error) {
	if err == nil {
		return
	}
	b.outputErrors.Add(1)
	log.WithError(err).Error("Failed to drive motor output")
}

func (b *Board) publish() {
	var states [2]motor.State
	for i, m := range b.motors {
		m.SyncEncoder()
		states[i] = m.State
	}
	b.seq++
	b.image.Store(regmap.NewImage(b.cfg.Map, b.seq, states, b.tun))
}

// Image is the most recently published register image. Safe from any goroutine.
func (b *Board) Image() *regmap.Image {
	return b.image.Load()
}

func (b *Board) Address() uint8 {
	return b.tun.Address
}

func (b *Board) OutputErrors() uint64 {
	return b.outputErrors.Load()
}

// Stop cuts both outputs.
func (b *Board) Stop() {
	for _, m := range b.motors {
		m.SetPower = 0
		m.Control &^= motor.Speed | motor.Mode
		b.check(m.Refresh(b.tun))
	}
	b.publish()
}
