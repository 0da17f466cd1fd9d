package busproto

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

func addrs(b Batch) []byte {
	var out []byte
	for _, in := range b.Intents {
		out = append(out, in.Addr)
	}
	return out
}

func TestDecode(t *testing.T) {
	Convey("decoding write transactions", t, func() {
		d := NewDecoder(regmap.V2)

		Convey("an empty transaction is ignored", func() {
			_, ok := d.Decode(nil)
			So(ok, ShouldBeFalse)
		})

		Convey("a single byte field", func() {
			b, ok := d.Decode([]byte{2, 100})
			So(ok, ShouldBeTrue)
			So(b.Intents, ShouldHaveLength, 1)
			So(b.Intents[0].Value, ShouldEqual, 100)
			So(b.Has(2), ShouldBeTrue)
			So(b.Has(3), ShouldBeFalse)
			So(b.Final, ShouldEqual, 2)
		})

		Convey("consecutive fields advance the address", func() {
			b, _ := d.Decode([]byte{2, 100, 150})
			So(addrs(b), ShouldResemble, []byte{2, 3})
			So(b.Intents[1].Value, ShouldEqual, 150)
			So(b.Final, ShouldEqual, 3)
			So(b.Updated, ShouldEqual, 0x0c)
		})

		Convey("multi-byte fields are consumed by width", func() {
			b, _ := d.Decode([]byte{6, 0x00, 0x64, 0xff, 0x38})
			So(addrs(b), ShouldResemble, []byte{6, 7})
			So(int16(b.Intents[0].Value), ShouldEqual, 100)
			So(int16(b.Intents[1].Value), ShouldEqual, -200)
		})

		Convey("floats are taken in memory order", func() {
			b, _ := d.Decode([]byte{10, 0x00, 0x00, 0x00, 0x3f})
			So(regmap.BitsFloat(b.Intents[0].Value), ShouldEqual, float32(0.5))
		})

		Convey("read-only registers are stepped over without consuming bytes", func() {
			b, _ := d.Decode([]byte{7, 0, 1, 0x00, 0x00, 0x80, 0x3f})
			So(addrs(b), ShouldResemble, []byte{7, 10})
			So(regmap.BitsFloat(b.Intents[1].Value), ShouldEqual, float32(1))
			So(d.Stats().Skipped, ShouldEqual, 2)
		})

		Convey("a partial trailing field is dropped", func() {
			b, _ := d.Decode([]byte{7, 0, 1, 5, 6})
			So(addrs(b), ShouldResemble, []byte{7})
			So(d.Stats().Partial, ShouldEqual, 1)
		})

		Convey("bytes past the end of the map are dropped", func() {
			b, _ := d.Decode([]byte{18, 1, 2})
			So(b.Intents, ShouldBeEmpty)
			So(b.Final, ShouldEqual, 19)
			So(d.Stats().Dropped, ShouldEqual, 2)
		})

		Convey("a lone command address becomes the final address", func() {
			b, _ := d.Decode([]byte{17})
			So(b.Intents, ShouldBeEmpty)
			So(b.Final, ShouldEqual, 17)
		})

		Convey("command payloads are carried as intents", func() {
			b, _ := d.Decode([]byte{14, 10, 0x05})
			So(addrs(b), ShouldResemble, []byte{14, 15})
			So(b.Intents[1].Entry.Field, ShouldEqual, regmap.FieldDeviceAddress)
		})
	})
}

func TestStreaming(t *testing.T) {
	Convey("a transaction received in pieces", t, func() {
		d := NewDecoder(regmap.V2)
		_, _ = d.Write([]byte{6, 0x00})
		_, _ = d.Write([]byte{0x64})

		Convey("decodes on End", func() {
			b, ok := d.End()
			So(ok, ShouldBeTrue)
			So(addrs(b), ShouldResemble, []byte{6})

			_, ok = d.End()
			So(ok, ShouldBeFalse)
		})

		Convey("is discarded by Abort", func() {
			d.Abort()
			_, ok := d.End()
			So(ok, ShouldBeFalse)
			So(d.Stats().Aborted, ShouldEqual, 1)
		})
	})
}

func TestRead(t *testing.T) {
	Convey("reads follow the selected address", t, func() {
		d := NewDecoder(regmap.V2)
		var motors [2]motor.State
		motors[0].CurrentPower = 42
		motors[1].EncoderValue = -1
		img := regmap.NewImage(regmap.V2, 1, motors, motor.DefaultTunables())

		So(d.Read(img), ShouldResemble, [4]byte{0, 0, 0, 0})

		d.Decode([]byte{2})
		So(d.Read(img), ShouldResemble, [4]byte{42, 0, 0, 0})

		d.Decode([]byte{5})
		So(d.Read(img), ShouldResemble, [4]byte{0xff, 0xff, 0xff, 0xff})

		Convey("selecting a write-only register keeps the previous pointer", func() {
			d.Decode([]byte{15})
			So(d.ReadAddr(), ShouldEqual, 5)
		})

		Convey("selecting past the map keeps the previous pointer", func() {
			d.Decode([]byte{99})
			So(d.ReadAddr(), ShouldEqual, 5)
		})
	})
}
