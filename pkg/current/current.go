package current

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ADC converts one analog sense channel. Channel 0 belongs to motor 1, channel 1 to
// motor 2.
type ADC interface {
	Convert(ch int) (uint16, error)
}

// Reading is the latest raw conversion for one motor. Seq increments on every store so
// a consumer can tell a fresh reading from one it has already seen.
type Reading struct {
	Raw uint16
	Seq uint32
}

// Sampler free-runs the ADC, alternating between the two sense channels after every
// completed conversion.
type Sampler struct {
	adc ADC
	ch  int

	// Raw value in the low 16 bits, sequence number in the high 32.
	latest [2]atomic.Uint64

	failures atomic.Uint32
}

func NewSampler(adc ADC) *Sampler {
	return &Sampler{adc: adc}
}

// Step performs one conversion on the current channel, records it and switches to the
// other channel.
func (s *Sampler) Step() error {
	ch := s.ch
	s.ch ^= 1

	raw, err := s.adc.Convert(ch)
	if err != nil {
		s.failures.Add(1)
		return errors.Wrapf(err, "current: convert channel %d", ch)
	}
	for {
		old := s.latest[ch].Load()
		seq := uint32(old>>16) + 1
		if s.latest[ch].CompareAndSwap(old, uint64(seq)<<16|uint64(raw)) {
			return nil
		}
	}
}

func (s *Sampler) Latest(ch int) Reading {
	v := s.latest[ch].Load()
	return Reading{Raw: uint16(v), Seq: uint32(v >> 16)}
}

func (s *Sampler) Failures() uint32 {
	return s.failures.Load()
}

// Run converts every period until ctx is done.
func (s *Sampler) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.Step(); err != nil {
			log.WithError(err).Debug("Current sample failed")
		}
	}
}
