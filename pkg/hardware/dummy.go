package hardware

import (
	"context"
	"fmt"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

// Dummy is a bus with no board behind it. It prints what it is sent and reads back zeros.
type Dummy struct {
	image *regmap.Image
}

func NewDummy() *Dummy {
	return &Dummy{
		image: regmap.NewImage(regmap.V2, 0, [2]motor.State{}, motor.DefaultTunables()),
	}
}

func (d *Dummy) Receive(ctx context.Context, tx []byte) error {
	fmt.Printf("DHW: Receive % x\n", tx)
	return nil
}

func (d *Dummy) Request() (unit [regmap.TransferUnit]byte) {
	fmt.Println("DHW: Request")
	return
}

func (d *Dummy) Image() *regmap.Image {
	return d.image
}

func (d *Dummy) Stats() busproto.Stats {
	return busproto.Stats{}
}

var _ Bus = (*Dummy)(nil)
