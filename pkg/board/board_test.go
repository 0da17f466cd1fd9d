package board

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
)

type fakeChannel struct {
	duty    uint8
	reverse bool
	braked  bool
}

func (f *fakeChannel) Drive(duty uint8) error    { f.duty = duty; f.braked = false; return nil }
func (f *fakeChannel) SetReverse(rev bool) error { f.reverse = rev; f.braked = false; return nil }
func (f *fakeChannel) Reverse() bool             { return f.reverse }
func (f *fakeChannel) Brake() error              { f.braked = true; return nil }

type fakeADC struct {
	values [2]uint16
}

func (a *fakeADC) Convert(ch int) (uint16, error) {
	return a.values[ch], nil
}

type rig struct {
	board *Board
	outs  [2]*fakeChannel
	encs  [2]*encoder.Counter
	store settings.Store
	dec   *busproto.Decoder
}

func newRig(store settings.Store) *rig {
	r := &rig{
		outs:  [2]*fakeChannel{{}, {}},
		encs:  [2]*encoder.Counter{new(encoder.Counter), new(encoder.Counter)},
		store: store,
		dec:   busproto.NewDecoder(regmap.V2),
	}
	r.board = New(Config{Map: regmap.V2, Timebase: motor.DefaultTimebase()},
		[2]channel.Channel{r.outs[0], r.outs[1]}, r.encs, store)
	r.board.Start()
	return r
}

func (r *rig) write(tx ...byte) error {
	b, ok := r.dec.Decode(tx)
	So(ok, ShouldBeTrue)
	return r.board.Commit(b)
}

func (r *rig) read(addr byte) [4]byte {
	u, ok := r.board.Image().Read(addr)
	So(ok, ShouldBeTrue)
	return u
}

func TestBoard(t *testing.T) {
	Convey("a freshly started board", t, func() {
		r := newRig(settings.NewEEPROM(settings.NewMemory()))

		Convey("reports default tunables", func() {
			So(r.read(14), ShouldResemble, [4]byte{20, 0, 0, 0})
			So(r.read(13), ShouldResemble, [4]byte{5, 0, 0, 0})
			So(r.board.Address(), ShouldEqual, 0x03)
		})

		Convey("a write is visible to the next read", func() {
			So(r.write(0, byte(motor.Speed)), ShouldBeNil)
			So(r.read(0)[0], ShouldEqual, byte(motor.Speed))
		})

		Convey("raw power is applied at commit", func() {
			So(r.write(2, 100, 50), ShouldBeNil)
			So(r.outs[0].duty, ShouldEqual, 100)
			So(r.outs[1].duty, ShouldEqual, 50)
			So(r.read(3)[0], ShouldEqual, 50)
		})

		Convey("ramped power moves on ticks, not on commit", func() {
			So(r.write(0, byte(motor.Speed)), ShouldBeNil)
			So(r.write(2, 200), ShouldBeNil)
			So(r.read(2)[0], ShouldEqual, 0)
			r.board.Tick()
			So(r.read(2)[0], ShouldEqual, 20)
			r.board.Tick()
			So(r.read(2)[0], ShouldEqual, 25)

			Convey("while an unticked motor is left alone", func() {
				So(r.read(3)[0], ShouldEqual, 0)
			})
		})

		Convey("entering rate mode forces the encoder on and brake off", func() {
			So(r.write(0, byte(motor.Speed|motor.Mode|motor.Brake)), ShouldBeNil)
			ctl := motor.Flags(r.read(0)[0])
			So(ctl&motor.Encoder, ShouldEqual, motor.Encoder)
			So(ctl&motor.Brake, ShouldEqual, 0)

			Convey("and the PID drives toward the target rate", func() {
				So(r.write(6, 0x00, 100), ShouldBeNil)
				r.board.Tick()
				So(r.read(2)[0], ShouldEqual, 53)
			})
		})

		Convey("encoder counts are published and can be overwritten", func() {
			r.encs[1].Store(-5)
			r.board.Tick()
			So(r.read(5), ShouldResemble, [4]byte{0xff, 0xff, 0xff, 0xfb})

			So(r.write(5, 0, 0, 0x01, 0x00), ShouldBeNil)
			So(r.encs[1].Load(), ShouldEqual, 256)
		})

		Convey("current readings set the ready flag", func() {
			s := current.NewSampler(&fakeADC{values: [2]uint16{0x0102, 0x0304}})
			r.board.SetCurrentSampler(s)
			So(s.Step(), ShouldBeNil)
			So(s.Step(), ShouldBeNil)
			r.board.Tick()
			So(r.read(8), ShouldResemble, [4]byte{0x01, 0x02, 0, 0})
			So(r.read(9), ShouldResemble, [4]byte{0x03, 0x04, 0, 0})
			So(motor.Flags(r.read(1)[0])&motor.CurrentReady, ShouldEqual, motor.CurrentReady)
		})

		Convey("gains are written as raw floats", func() {
			So(r.write(10, 0x00, 0x00, 0x80, 0x3f), ShouldBeNil)
			So(r.read(10), ShouldResemble, [4]byte{0x00, 0x00, 0x80, 0x3f})
		})

		Convey("settings survive a save, change and load", func() {
			So(r.write(13, 9), ShouldBeNil)
			So(r.write(16, byte(settings.GroupRamping)), ShouldBeNil)
			So(r.write(13, 1), ShouldBeNil)
			So(r.read(13)[0], ShouldEqual, 1)
			So(r.write(17), ShouldBeNil)
			So(r.read(13)[0], ShouldEqual, 9)
		})

		Convey("a new device address is saved at once", func() {
			So(r.write(15, 0x42), ShouldBeNil)
			So(r.board.Address(), ShouldEqual, 0x42)

			again := newRig(r.store)
			So(again.board.Address(), ShouldEqual, 0x42)
		})

		Convey("selecting reset reports it to the owner", func() {
			So(r.write(18), ShouldEqual, ErrReset)
		})

		Convey("stop cuts both outputs", func() {
			So(r.write(2, 100, 100), ShouldBeNil)
			r.board.Stop()
			So(r.outs[0].duty, ShouldEqual, 0)
			So(r.outs[1].duty, ShouldEqual, 0)
		})
	})

	Convey("a board without a store runs on defaults", t, func() {
		r := newRig(nil)
		So(r.read(14)[0], ShouldEqual, 20)
		So(r.write(16, 0xff), ShouldBeNil)
	})
}
