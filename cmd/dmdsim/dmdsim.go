package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abiosoft/ishell"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/config"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/dmd"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/sim"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/webbus"
)

func main() {
	fmt.Println("---- Dual motor driver simulator ----")

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println("Config error, using defaults:", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Println(err)
	}
	bc, err := cfg.Board()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registerSignalHandlers(cancel)

	params := sim.DefaultParams()
	params.TicksPerRev = bc.Timebase.TicksPerRev
	plant := sim.New(params)

	hw := hardware.New(hardware.Config{
		Board:     bc,
		Outputs:   plant.Channels(),
		ADC:       plant,
		ADCPeriod: time.Duration(cfg.ADCPeriodMs) * time.Millisecond,
		Store:     settings.NewEEPROM(settings.NewMemory()),
	})
	plant.AttachEncoders(hw.Encoders())
	hw.Start(ctx)
	defer hw.Shutdown()
	go plant.Run(ctx, time.Millisecond)

	go func() {
		if err := webbus.New(hw).ListenAndServe(ctx, cfg.Listen); err != nil {
			log.WithError(err).Warn("Bench bus stopped")
		}
	}()

	d := dmd.NewWithPort(hardware.NewLoopback(hw), bc.Map)
	shell := ishell.New()
	shell.Println("Motors are 1 and 2. Type help for commands.")
	shell.ShowPrompt(true)
	addCommands(shell, d, hw, plant)
	shell.Run()
	cancel()
}

func motorArg(c *ishell.Context, i int) (int, bool) {
	if len(c.Args) <= i {
		c.Println("missing motor number")
		return 0, false
	}
	m, err := strconv.Atoi(c.Args[i])
	if err != nil || m < 1 || m > 2 {
		c.Println("motor must be 1 or 2")
		return 0, false
	}
	return m - 1, true
}

func intArg(c *ishell.Context, i int, bits int) (int64, bool) {
	if len(c.Args) <= i {
		c.Println("missing argument")
		return 0, false
	}
	v, err := strconv.ParseInt(c.Args[i], 0, bits)
	if err != nil {
		c.Err(err)
		return 0, false
	}
	return v, true
}

func floatArg(c *ishell.Context, i int) (float32, bool) {
	if len(c.Args) <= i {
		c.Println("missing argument")
		return 0, false
	}
	v, err := strconv.ParseFloat(c.Args[i], 32)
	if err != nil {
		c.Err(err)
		return 0, false
	}
	return float32(v), true
}

// parseFlags accepts a number or names joined with |, e.g. speed|mode.
func parseFlags(s string) (motor.Flags, error) {
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return motor.Flags(v), nil
	}
	var f motor.Flags
	for _, name := range strings.Split(strings.ToLower(s), "|") {
		switch name {
		case "dir", "direction":
			f |= motor.Direction
		case "brake":
			f |= motor.Brake
		case "speed":
			f |= motor.Speed
		case "mode":
			f |= motor.Mode
		case "enc", "encoder":
			f |= motor.Encoder
		case "", "0":
		default:
			return 0, fmt.Errorf("unknown flag %q", name)
		}
	}
	return f, nil
}

func report(c *ishell.Context, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println("ok")
}

func addCommands(shell *ishell.Shell, d *dmd.DMD, hw *hardware.Hardware, plant *sim.Plant) {
	shell.AddCmd(&ishell.Cmd{
		Name: "control",
		Help: "control <motor> <flags>, flags as a number or e.g. speed|mode",
		Func: func(c *ishell.Context) {
			m, ok := motorArg(c, 0)
			if !ok || len(c.Args) < 2 {
				return
			}
			f, err := parseFlags(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			report(c, d.SetControl(m, f))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "power",
		Help: "power <motor> <0-255>",
		Func: func(c *ishell.Context) {
			m, ok := motorArg(c, 0)
			if !ok {
				return
			}
			if p, ok := intArg(c, 1, 9); ok && p >= 0 && p <= 255 {
				report(c, d.SetPower(m, uint8(p)))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "rate",
		Help: "rate <motor> <target>, needs control speed|mode",
		Func: func(c *ishell.Context) {
			m, ok := motorArg(c, 0)
			if !ok {
				return
			}
			if r, ok := intArg(c, 1, 16); ok {
				report(c, d.SetTargetRate(m, int16(r)))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "encoder",
		Help: "encoder <motor> [value]",
		Func: func(c *ishell.Context) {
			m, ok := motorArg(c, 0)
			if !ok {
				return
			}
			if len(c.Args) > 1 {
				if v, ok := intArg(c, 1, 32); ok {
					report(c, d.SetEncoder(m, int32(v)))
				}
				return
			}
			v, err := d.Encoder(m)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(v)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "gains",
		Help: "gains [kp ki kd]",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				kp, ki, kd, err := d.Gains()
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("kp=%g ki=%g kd=%g\n", kp, ki, kd)
				return
			}
			kp, ok1 := floatArg(c, 0)
			ki, ok2 := floatArg(c, 1)
			kd, ok3 := floatArg(c, 2)
			if ok1 && ok2 && ok3 {
				report(c, d.SetGains(kp, ki, kd))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "ramp",
		Help: "ramp <ramping rate> <min power>",
		Func: func(c *ishell.Context) {
			rr, ok1 := intArg(c, 0, 9)
			mp, ok2 := intArg(c, 1, 9)
			if ok1 && ok2 {
				report(c, d.SetRamping(uint8(rr), uint8(mp)))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "save",
		Help: "save <groups>, 0x01 control 0x02 ramp 0x04 min power 0x08 address 0x10 pid",
		Func: func(c *ishell.Context) {
			if g, ok := intArg(c, 0, 9); ok {
				report(c, d.SaveSettings(settings.Group(g)))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "load",
		Help: "reload the saved settings",
		Func: func(c *ishell.Context) { report(c, d.LoadSettings()) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "reset",
		Help: "reset the board",
		Func: func(c *ishell.Context) { report(c, d.Reset()) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "both motors to raw mode at zero power",
		Func: func(c *ishell.Context) { report(c, d.Stop()) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "show both motors",
		Func: func(c *ishell.Context) {
			img := hw.Image()
			c.Printf("seq=%d %+v resets=%d\n", img.Seq, img.Tunables, hw.Controller().Resets())
			for i, s := range img.Motors {
				c.Printf("M%d %v shaft=%.2frev/s\n", i+1, s, plant.Motors[i].Speed())
			}
			c.Printf("bus %+v\n", hw.Stats())
		},
	})
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Info("Signal: ", s)
		cancelFunc()
		time.Sleep(500 * time.Millisecond)
		os.Exit(0)
	}()
}
