// Package webbus puts the board's register bus on HTTP so a bench board can be driven
// without an I2C master.
//
//	POST /bus/{addr}   body is the hex payload written from addr onwards
//	GET  /bus/{addr}   selects addr and returns the 4-byte transfer unit
//	GET  /state        JSON snapshot of the published image
//	GET  /telemetry    websocket streaming snapshots as the image changes
package webbus

import (
	"context"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

const (
	DefaultTimeout = 500 * time.Millisecond
	DefaultPeriod  = 100 * time.Millisecond
	maxPayload     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	bus hardware.Bus
	// Timeout bounds one bus transaction.
	Timeout time.Duration
	// Period is how often telemetry checks for a new image.
	Period time.Duration

	// The bus is serial: one transaction at a time.
	lock sync.Mutex
}

func New(bus hardware.Bus) *Server {
	return &Server{
		bus:     bus,
		Timeout: DefaultTimeout,
		Period:  DefaultPeriod,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/bus/{addr}", s.write)
	r.Get("/bus/{addr}", s.read)
	r.Get("/state", s.state)
	r.Get("/telemetry", s.telemetry)
	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.WithField("addr", addr).Info("Bench bus listening")
	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, StatusText: "Invalid request.", ErrorText: err.Error()}
}

func ErrBusTimeout(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusGatewayTimeout, StatusText: "Bus transaction timed out.", ErrorText: err.Error()}
}

func ErrBus(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusBadGateway, StatusText: "Bus transaction failed.", ErrorText: err.Error()}
}

// Unit is the reply to a bus transaction.
type Unit struct {
	Addr  byte           `json:"addr"`
	Name  string         `json:"name,omitempty"`
	Bytes string         `json:"bytes,omitempty"`
	Stats busproto.Stats `json:"stats"`
}

func parseAddr(r *http.Request) (byte, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "addr"), 0, 8)
	if err != nil {
		return 0, errors.Wrap(err, "register address")
	}
	return byte(v), nil
}

func (s *Server) name(addr byte) string {
	img := s.bus.Image()
	if img == nil {
		return ""
	}
	e, _ := img.Map.Lookup(addr)
	return e.Name
}

func (s *Server) transact(ctx context.Context, tx []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	err := s.bus.Receive(ctx, tx)
	if err != nil {
		if a, ok := s.bus.(interface{ Abort() }); ok {
			a.Abort()
		}
	}
	return err
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.WithError(err).Warn("Bench bus transaction failed")
	if errors.Cause(err) == context.DeadlineExceeded {
		render.Render(w, r, ErrBusTimeout(err))
		return
	}
	render.Render(w, r, ErrBus(err))
}

func (s *Server) write(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, 2*maxPayload+16))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	payload, err := hex.DecodeString(strings.Join(strings.Fields(string(body)), ""))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(errors.Wrap(err, "payload")))
		return
	}

	s.lock.Lock()
	err = s.transact(r.Context(), append([]byte{addr}, payload...))
	s.lock.Unlock()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, Unit{Addr: addr, Name: s.name(addr), Stats: s.bus.Stats()})
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	s.lock.Lock()
	err = s.transact(r.Context(), []byte{addr})
	var unit [regmap.TransferUnit]byte
	if err == nil {
		unit = s.bus.Request()
	}
	s.lock.Unlock()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, Unit{Addr: addr, Name: s.name(addr), Bytes: hex.EncodeToString(unit[:]), Stats: s.bus.Stats()})
}

// Snapshot is the JSON form of a published image.
type Snapshot struct {
	Map      string         `json:"map"`
	Seq      uint64         `json:"seq"`
	// Address is the 7-bit bus address the board answers on after its next restart.
	Address  uint8          `json:"address"`
	Motors   [2]MotorState  `json:"motors"`
	Tunables motor.Tunables `json:"tunables"`
}

type MotorState struct {
	Control      string  `json:"control"`
	SetPower     uint8   `json:"set_power"`
	CurrentPower uint8   `json:"current_power"`
	TargetRate   int16   `json:"target_rate"`
	CurrentRate  float64 `json:"current_rate"`
	Encoder      int32   `json:"encoder"`
	Current      uint16  `json:"current"`
	P            float64 `json:"p"`
	I            float64 `json:"i"`
	D            float64 `json:"d"`
}

func NewSnapshot(img *regmap.Image) Snapshot {
	s := Snapshot{
		Map:      img.Map.Version.String(),
		Seq:      img.Seq,
		Address:  img.Tunables.Address,
		Tunables: img.Tunables,
	}
	for i, m := range img.Motors {
		s.Motors[i] = MotorState{
			Control:      m.Control.String(),
			SetPower:     m.SetPower,
			CurrentPower: m.CurrentPower,
			TargetRate:   m.TargetRate,
			CurrentRate:  m.CurrentRate,
			Encoder:      m.EncoderValue,
			Current:      m.CurrentDraw,
			P:            m.P,
			I:            m.I,
			D:            m.D,
		}
	}
	return s
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	img := s.bus.Image()
	if img == nil {
		render.Render(w, r, ErrBus(errors.New("board not running")))
		return
	}
	render.JSON(w, r, NewSnapshot(img))
}

func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Telemetry upgrade failed")
		return
	}
	defer conn.Close()

	// The client never sends anything we need; reading notices when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	var lastSeq uint64
	sent := false
	for {
		if img := s.bus.Image(); img != nil && (!sent || img.Seq != lastSeq) {
			if err := conn.WriteJSON(NewSnapshot(img)); err != nil {
				log.WithError(err).Debug("Telemetry client went away")
				return
			}
			lastSeq, sent = img.Seq, true
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
