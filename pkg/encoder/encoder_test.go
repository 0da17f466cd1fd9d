package encoder

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestCounter(t *testing.T) {
	Convey("edges count in the direction of the companion phase", t, func() {
		var c Counter
		c.Edge(gpio.High)
		c.Edge(gpio.High)
		c.Edge(gpio.High)
		So(c.Load(), ShouldEqual, 3)

		c.Edge(gpio.Low)
		So(c.Load(), ShouldEqual, 2)

		Convey("the count can go negative", func() {
			for i := 0; i < 5; i++ {
				c.Edge(gpio.Low)
			}
			So(c.Load(), ShouldEqual, -3)
		})

		Convey("a stored value replaces the count", func() {
			c.Store(1000)
			c.Edge(gpio.High)
			So(c.Load(), ShouldEqual, 1001)
		})

		Convey("edges are ignored while masked", func() {
			c.SetEnabled(false)
			c.Edge(gpio.High)
			So(c.Load(), ShouldEqual, 2)
			c.SetEnabled(true)
			c.Edge(gpio.High)
			So(c.Load(), ShouldEqual, 3)
		})
	})

	Convey("concurrent edges are never lost", t, func() {
		var c Counter
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 1000; i++ {
					c.Edge(gpio.High)
				}
			}()
		}
		wg.Wait()
		So(c.Load(), ShouldEqual, 4000)
	})
}

func TestWatch(t *testing.T) {
	Convey("rising edges on phase A are counted using phase B", t, func() {
		a := &gpiotest.Pin{N: "ENC1A", EdgesChan: make(chan gpio.Level)}
		b := &gpiotest.Pin{N: "ENC1B", EdgesChan: make(chan gpio.Level)}

		var c Counter
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- c.Watch(ctx, a, b)
		}()

		// Phase B was configured with a pull-up, so it reads high: forward.
		for i := 0; i < 3; i++ {
			a.EdgesChan <- gpio.High
		}
		deadline := time.Now().Add(time.Second)
		for c.Load() != 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		So(c.Load(), ShouldEqual, 3)

		cancel()
		So(<-done, ShouldEqual, context.Canceled)
	})
}
