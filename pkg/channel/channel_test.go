package channel

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func testPins() (Pins, *gpiotest.Pin, *gpiotest.Pin, *gpiotest.Pin) {
	speed := &gpiotest.Pin{N: "M1", Num: 5}
	high := &gpiotest.Pin{N: "M1H", Num: 7}
	low := &gpiotest.Pin{N: "M1L", Num: 8}
	return Pins{Speed: speed, High: high, Low: low}, speed, high, low
}

func TestBridge(t *testing.T) {
	Convey("a new bridge coasts forward", t, func() {
		pins, speed, high, low := testPins()
		b, err := NewBridge(pins, 0)
		So(err, ShouldBeNil)
		So(speed.Read(), ShouldEqual, gpio.Low)
		So(high.Read(), ShouldEqual, gpio.Low)
		So(low.Read(), ShouldEqual, gpio.High)
		So(b.Reverse(), ShouldBeFalse)

		Convey("reverse swaps the direction inputs", func() {
			So(b.SetReverse(true), ShouldBeNil)
			So(high.Read(), ShouldEqual, gpio.High)
			So(low.Read(), ShouldEqual, gpio.Low)
			So(b.Reverse(), ShouldBeTrue)
		})

		Convey("full power bypasses modulation", func() {
			So(b.Drive(255), ShouldBeNil)
			So(speed.Read(), ShouldEqual, gpio.High)
			So(b.Duty(), ShouldEqual, 255)
		})

		Convey("zero power releases the speed input", func() {
			So(b.Drive(255), ShouldBeNil)
			So(b.Drive(0), ShouldBeNil)
			So(speed.Read(), ShouldEqual, gpio.Low)
			So(b.Duty(), ShouldEqual, 0)
		})

		Convey("partial power is recorded as the duty", func() {
			So(b.Drive(128), ShouldBeNil)
			So(b.Duty(), ShouldEqual, 128)
		})

		Convey("braking drives every input high", func() {
			So(b.Brake(), ShouldBeNil)
			So(speed.Read(), ShouldEqual, gpio.High)
			So(high.Read(), ShouldEqual, gpio.High)
			So(low.Read(), ShouldEqual, gpio.High)
			So(b.Reverse(), ShouldBeTrue)
		})
	})

	Convey("a bridge needs all of its pins", t, func() {
		pins, _, _, _ := testPins()
		pins.Low = nil
		_, err := NewBridge(pins, DefaultFrequency)
		So(err, ShouldNotBeNil)
	})
}

func TestDutyFromByte(t *testing.T) {
	if d := DutyFromByte(0); d != 0 {
		t.Fatalf("duty 0 mapped to %v", d)
	}
	if d := DutyFromByte(255); d != gpio.DutyMax {
		t.Fatalf("duty 255 mapped to %v, expected %v", d, gpio.DutyMax)
	}
	if d := DutyFromByte(128); d <= gpio.DutyHalf || d > gpio.DutyHalf+gpio.DutyMax/255 {
		t.Fatalf("duty 128 mapped to %v", d)
	}
}
