package hardware

import (
	"context"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

// Bus is the slave end of the register bus, as seen by a transport.
type Bus interface {
	// Receive delivers one complete write transaction and returns once it is applied.
	Receive(ctx context.Context, tx []byte) error
	// Request answers a read at the currently selected address.
	Request() [regmap.TransferUnit]byte

	Image() *regmap.Image
	Stats() busproto.Stats
}
