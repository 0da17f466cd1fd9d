package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/config"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/dmd"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
)

const usage = `usage: dmdctl <command> [args]
  status
  control <motor> <flags>
  power <motor> <0-255>
  rate <motor> <target>
  gains <kp> <ki> <kd>
  ramp <rate> <min power>
  address <new address>
  save <groups>
  load
  reset
  stop
  watch <ticks per rev>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println("Config error, using defaults:", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Println(err)
	}
	bc, err := cfg.Board()
	if err != nil {
		fail(err)
	}

	var d dmd.Interface
	d, err = dmd.New(cfg.I2CDev, cfg.BoardAddr, bc.Map)
	if err != nil {
		fmt.Println("Failed to open motor driver, using dummy:", err)
		d = dmd.Dummy()
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "status":
		for m := 0; m < 2; m++ {
			ctl, err := d.Control(m)
			check(err)
			power, err := d.Power(m)
			check(err)
			rate, err := d.Rate(m)
			check(err)
			enc, err := d.Encoder(m)
			if err != nil {
				fmt.Println(err)
			}
			amps, err := d.Current(m)
			if err != nil {
				fmt.Println(err)
			}
			fmt.Printf("M%d control=%v power=%d rate=%d encoder=%d current=%d\n", m+1, ctl, power, rate, enc, amps)
		}
		kp, ki, kd, err := d.Gains()
		if err == nil {
			fmt.Printf("kp=%g ki=%g kd=%g\n", kp, ki, kd)
		}
	case "control":
		need(args, 2)
		check(d.SetControl(motorNum(args[0]), motor.Flags(num(args[1], 8))))
	case "power":
		need(args, 2)
		check(d.SetPower(motorNum(args[0]), uint8(num(args[1], 8))))
	case "rate":
		need(args, 2)
		v, err := strconv.ParseInt(args[1], 0, 16)
		check(err)
		check(d.SetTargetRate(motorNum(args[0]), int16(v)))
	case "gains":
		need(args, 3)
		check(d.SetGains(gain(args[0]), gain(args[1]), gain(args[2])))
	case "ramp":
		need(args, 2)
		check(d.SetRamping(uint8(num(args[0], 8)), uint8(num(args[1], 8))))
	case "address":
		need(args, 1)
		check(d.SetAddress(uint8(num(args[0], 7))))
	case "save":
		need(args, 1)
		check(d.SaveSettings(settings.Group(num(args[0], 8))))
	case "load":
		check(d.LoadSettings())
	case "reset":
		check(d.Reset())
	case "stop":
		check(d.Stop())
	case "watch":
		need(args, 1)
		t := dmd.NewDistanceTracker(d, float64(num(args[0], 16)))
		for range time.NewTicker(500 * time.Millisecond).C {
			if err := t.Poll(); err != nil {
				fmt.Println(err)
				continue
			}
			rot := t.AccumulatedRotations()
			fmt.Printf("M1 %.2f rev  M2 %.2f rev\n", rot[0], rot[1])
		}
	default:
		fmt.Print(usage)
		os.Exit(2)
	}
}

func motorNum(s string) int {
	m := num(s, 8)
	if m < 1 || m > 2 {
		fail(fmt.Errorf("motor must be 1 or 2, not %s", s))
	}
	return int(m - 1)
}

func num(s string, bits int) uint64 {
	v, err := strconv.ParseUint(s, 0, bits)
	check(err)
	return v
}

func gain(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	check(err)
	return float32(v)
}

func need(args []string, n int) {
	if len(args) < n {
		fmt.Print(usage)
		os.Exit(2)
	}
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Println("Error:", err)
	os.Exit(1)
}
