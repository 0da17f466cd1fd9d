package webbus

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/board"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/sim"
)

func get(url string, v interface{}) int {
	resp, err := http.Get(url)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	body, _ := ioutil.ReadAll(resp.Body)
	if v != nil {
		So(json.Unmarshal(body, v), ShouldBeNil)
	}
	return resp.StatusCode
}

func post(url, payload string, v interface{}) int {
	resp, err := http.Post(url, "text/plain", strings.NewReader(payload))
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	body, _ := ioutil.ReadAll(resp.Body)
	if v != nil {
		So(json.Unmarshal(body, v), ShouldBeNil)
	}
	return resp.StatusCode
}

func TestServer(t *testing.T) {
	Convey("a bench bus over a simulated board", t, func() {
		plant := sim.New(sim.DefaultParams())
		hw := hardware.New(hardware.Config{
			Board:   board.Config{Map: regmap.V2, Timebase: motor.DefaultTimebase()},
			Outputs: plant.Channels(),
			Store:   settings.NewEEPROM(settings.NewMemory()),
		})
		hw.Start(context.Background())
		Reset(hw.Shutdown)

		s := New(hw)
		s.Period = 5 * time.Millisecond
		srv := httptest.NewServer(s.Handler())
		Reset(srv.Close)

		Convey("a posted write can be read back", func() {
			var u Unit
			So(post(srv.URL+"/bus/2", "80", &u), ShouldEqual, http.StatusOK)
			So(u.Name, ShouldEqual, "M1Power")
			So(u.Stats.Transactions, ShouldEqual, 1)

			So(get(srv.URL+"/bus/2", &u), ShouldEqual, http.StatusOK)
			So(u.Bytes, ShouldEqual, "80000000")
		})

		Convey("whitespace in the payload is ignored", func() {
			So(post(srv.URL+"/bus/0x04", "00 00\n01 00", nil), ShouldEqual, http.StatusOK)
			var u Unit
			get(srv.URL+"/bus/4", &u)
			So(u.Bytes, ShouldEqual, "00000100")
		})

		Convey("a malformed payload is refused", func() {
			var e ErrResponse
			So(post(srv.URL+"/bus/2", "zz", &e), ShouldEqual, http.StatusBadRequest)
			So(e.ErrorText, ShouldContainSubstring, "payload")
		})

		Convey("a malformed address is refused", func() {
			So(get(srv.URL+"/bus/300", nil), ShouldEqual, http.StatusBadRequest)
		})

		Convey("state reports the motors", func() {
			post(srv.URL+"/bus/0", "08", nil)
			var snap Snapshot
			So(get(srv.URL+"/state", &snap), ShouldEqual, http.StatusOK)
			So(snap.Map, ShouldEqual, "2.0.0")
			So(snap.Motors[0].Control, ShouldEqual, motor.Mode.String())
			So(snap.Tunables.MinPower, ShouldEqual, 20)
			So(snap.Address, ShouldEqual, 0x03)
		})

		Convey("state reports a new device address", func() {
			post(srv.URL+"/bus/15", "42", nil)
			var snap Snapshot
			So(get(srv.URL+"/state", &snap), ShouldEqual, http.StatusOK)
			So(snap.Address, ShouldEqual, 0x42)
		})

		Convey("telemetry streams snapshots", func() {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/telemetry"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			var first, second Snapshot
			So(conn.ReadJSON(&first), ShouldBeNil)
			So(conn.ReadJSON(&second), ShouldBeNil)
			So(second.Seq, ShouldBeGreaterThan, first.Seq)
		})
	})
}

// stuckBus never completes a write.
type stuckBus struct {
	lock    sync.Mutex
	aborted int
}

func (b *stuckBus) Receive(ctx context.Context, tx []byte) error {
	<-ctx.Done()
	return ctx.Err()
}
func (b *stuckBus) Request() (unit [regmap.TransferUnit]byte) { return }
func (b *stuckBus) Image() *regmap.Image                      { return nil }
func (b *stuckBus) Stats() busproto.Stats                     { return busproto.Stats{} }
func (b *stuckBus) Abort() {
	b.lock.Lock()
	b.aborted++
	b.lock.Unlock()
}

func (b *stuckBus) aborts() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.aborted
}

func TestTimeout(t *testing.T) {
	Convey("a transaction the board never answers", t, func() {
		bus := &stuckBus{}
		s := New(bus)
		s.Timeout = 10 * time.Millisecond
		srv := httptest.NewServer(s.Handler())
		Reset(srv.Close)

		So(post(srv.URL+"/bus/2", "01", nil), ShouldEqual, http.StatusGatewayTimeout)
		So(bus.aborts(), ShouldEqual, 1)
		So(get(srv.URL+"/state", nil), ShouldEqual, http.StatusBadGateway)
	})
}
