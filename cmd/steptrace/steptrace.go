package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/board"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/config"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/encoder"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/sim"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/trace"
)

// steptrace runs a simulated motor through a rate step and back and plots the result.
//
//	steptrace [target] [out.png]
func main() {
	target := int64(100)
	out := "step.png"
	if len(os.Args) > 1 {
		v, err := strconv.ParseInt(os.Args[1], 0, 16)
		if err != nil {
			fmt.Println("bad target:", err)
			os.Exit(2)
		}
		target = v
	}
	if len(os.Args) > 2 {
		out = os.Args[2]
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println("Config error, using defaults:", err)
	}
	bc, err := cfg.Board()
	if err != nil {
		panic(err)
	}

	params := sim.DefaultParams()
	params.TicksPerRev = bc.Timebase.TicksPerRev
	plant := sim.New(params)
	encs := [2]*encoder.Counter{new(encoder.Counter), new(encoder.Counter)}
	plant.AttachEncoders(encs)
	b := board.New(bc, plant.Channels(), encs, settings.NewEEPROM(settings.NewMemory()))
	b.Start()
	dec := busproto.NewDecoder(bc.Map)

	write := func(tx ...byte) {
		batch, _ := dec.Decode(tx)
		if err := b.Commit(batch); err != nil {
			panic(err)
		}
	}
	ctl, _ := bc.Map.Addr(regmap.FieldControl, 0)
	rate, ok := bc.Map.Addr(regmap.FieldRate, 0)
	if !ok {
		panic("register map has no rate register")
	}
	write(ctl, byte(motor.Speed|motor.Mode))

	period := time.Duration(float64(time.Second) / bc.Timebase.RefreshHz)
	rec := trace.Recorder{Title: fmt.Sprintf("rate step to %d, map %s", target, bc.Map.Version)}
	steps := []int16{int16(target), 0, -int16(target)}
	tick := 0
	for _, t := range steps {
		write(rate, byte(uint16(t)>>8), byte(t))
		for i := 0; i < 300; i++ {
			plant.Step(period)
			b.Tick()
			rec.Record(tick, b.Image().Motors[0])
			tick++
		}
	}

	if err := rec.SavePNG(out, 800, 400); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("Wrote", out)
}
