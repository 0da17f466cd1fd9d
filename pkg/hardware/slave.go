package hardware

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

// Slave decodes transport traffic and feeds it to a Controller. Transactions from
// several transports are applied one at a time, in the order they were decoded.
type Slave struct {
	dec  *busproto.Decoder
	ctrl *Controller

	lock sync.Mutex
}

func NewSlave(m *regmap.Map, ctrl *Controller) *Slave {
	return &Slave{
		dec:  busproto.NewDecoder(m),
		ctrl: ctrl,
	}
}

var _ Bus = (*Slave)(nil)

func (s *Slave) Receive(ctx context.Context, tx []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := s.dec.Write(tx); err != nil {
		return err
	}
	batch, ok := s.dec.End()
	if !ok {
		return nil
	}
	if err := s.ctrl.Transact(ctx, batch); err != nil {
		return errors.Wrap(err, "bus: commit")
	}
	return nil
}

// Abort drops a partly received transaction.
func (s *Slave) Abort() {
	s.dec.Abort()
}

func (s *Slave) Request() (unit [regmap.TransferUnit]byte) {
	img := s.ctrl.Image()
	if img == nil {
		return unit
	}
	return s.dec.Read(img)
}

func (s *Slave) Image() *regmap.Image {
	return s.ctrl.Image()
}

func (s *Slave) Stats() busproto.Stats {
	return s.dec.Stats()
}
