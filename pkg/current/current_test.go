package current

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeADC struct {
	values [2]uint16
	calls  []int
	fail   bool
}

func (f *fakeADC) Convert(ch int) (uint16, error) {
	f.calls = append(f.calls, ch)
	if f.fail {
		return 0, errors.New("simulated conversion error")
	}
	return f.values[ch], nil
}

func TestSampler(t *testing.T) {
	Convey("the sampler alternates channels", t, func() {
		adc := &fakeADC{values: [2]uint16{512, 1023}}
		s := NewSampler(adc)

		So(s.Step(), ShouldBeNil)
		So(s.Step(), ShouldBeNil)
		So(s.Step(), ShouldBeNil)
		So(adc.calls, ShouldResemble, []int{0, 1, 0})

		Convey("and records the raw value per motor", func() {
			So(s.Latest(0), ShouldResemble, Reading{Raw: 512, Seq: 2})
			So(s.Latest(1), ShouldResemble, Reading{Raw: 1023, Seq: 1})
		})
	})

	Convey("a failed conversion keeps the previous reading", t, func() {
		adc := &fakeADC{values: [2]uint16{100, 200}}
		s := NewSampler(adc)
		So(s.Step(), ShouldBeNil)

		adc.fail = true
		So(s.Step(), ShouldNotBeNil)
		So(s.Step(), ShouldNotBeNil)
		So(s.Latest(0), ShouldResemble, Reading{Raw: 100, Seq: 1})
		So(s.Failures(), ShouldEqual, 2)
	})

	Convey("Run samples until cancelled", t, func() {
		adc := &fakeADC{values: [2]uint16{1, 2}}
		s := NewSampler(adc)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			s.Run(ctx, time.Millisecond)
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		<-done
		So(s.Latest(0).Seq, ShouldBeGreaterThan, 0)
	})
}
