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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/channel"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/config"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/current"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/mux"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/pca9685"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/settings"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/webbus"
)

const inUsePath = "/cfg/dualmotor-in-use.yaml"

func main() {
	fmt.Println("---- Dual motor driver bench board ----")

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println("Config error, using defaults:", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Println(err)
	}
	if err := cfg.WriteInUse(inUsePath); err != nil {
		log.WithError(err).Warn("Failed to write in-use config")
	}

	if _, err := host.Init(); err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registerSignalHandlers(cancel)

	bc, err := cfg.Board()
	if err != nil {
		panic(err)
	}

	if cfg.MuxPort >= 0 {
		var mx mux.Interface
		mx, err = mux.New(cfg.I2CDev)
		if err != nil {
			fmt.Println("Failed to open mux, using dummy", err)
			mx = mux.Dummy()
		}
		if err := mx.Select(cfg.MuxPort); err != nil {
			panic(err)
		}
		defer mx.Close()
	}

	freq := physic.Frequency(cfg.PWMFrequencyHz) * physic.Hertz
	pwm, err := pca9685.New(cfg.I2CDev)
	if err != nil {
		fmt.Println("Failed to open PCA9685, motors will be dummies", err)
	} else {
		defer pwm.Close()
		if err := pwm.Configure(freq); err != nil {
			panic(err)
		}
	}

	var hwCfg hardware.Config
	hwCfg.Board = bc
	var sensors ina219.Pair
	haveSensors := false
	for i, mp := range cfg.Motors {
		hwCfg.Outputs[i], err = output(pwm, mp, freq)
		if err != nil {
			fmt.Printf("Motor %d output unavailable, using dummy: %v\n", i+1, err)
			hwCfg.Outputs[i] = channel.Dummy(fmt.Sprintf("M%d", i+1))
		}

		a, b := gpioreg.ByName(mp.EncoderA), gpioreg.ByName(mp.EncoderB)
		if a == nil || b == nil {
			log.WithField("motor", i+1).Warn("Encoder pins not found, encoder disabled")
		} else {
			hwCfg.Encoders[i] = hardware.EncoderPins{A: a, B: b}
		}

		if mp.CurrentAddr != 0 {
			s, err := ina219.NewI2C(cfg.I2CDev, mp.CurrentAddr)
			if err != nil {
				fmt.Printf("Failed to open current sensor for motor %d: %v\n", i+1, err)
				continue
			}
			if err := s.Configure(cfg.ShuntOhms, cfg.MaxCurrent); err != nil {
				panic(err)
			}
			sensors[i] = s
			haveSensors = true
		}
	}
	if haveSensors {
		defer sensors.Close()
		sensors.LogSupply()
		hwCfg.ADC = current.ADC(sensors)
		hwCfg.ADCPeriod = time.Duration(cfg.ADCPeriodMs) * time.Millisecond
	}

	store, err := settings.OpenFile(cfg.Settings)
	if err != nil {
		panic(err)
	}
	defer store.Close()
	hwCfg.Store = settings.NewEEPROM(store)

	hw := hardware.New(hwCfg)
	defer func() {
		fmt.Println("Zeroing motors for shut down")
		hw.Shutdown()
		time.Sleep(100 * time.Millisecond)
	}()
	hw.Start(ctx)

	addr := hw.Image().Tunables.Address
	log.WithField("address", fmt.Sprintf("%#x", addr)).Info("Board answering on bus address")
	if int(addr) != cfg.BoardAddr {
		log.WithFields(log.Fields{
			"stored":     fmt.Sprintf("%#x", addr),
			"configured": fmt.Sprintf("%#x", cfg.BoardAddr),
		}).Warn("Stored bus address differs from board_addr; masters using the config will miss the board")
	}

	if err := webbus.New(hw).ListenAndServe(ctx, cfg.Listen); err != nil {
		log.WithError(err).Error("Bench bus failed")
	}
}

func output(pwm *pca9685.PCA9685, mp config.MotorPins, freq physic.Frequency) (channel.Channel, error) {
	pins, err := bridgePins(pwm, mp)
	if err != nil {
		return nil, err
	}
	return channel.NewBridge(pins, freq)
}

// bridgePins resolves the three bridge inputs of one motor.
func bridgePins(pwm *pca9685.PCA9685, mp config.MotorPins) (channel.Pins, error) {
	var pins channel.Pins
	for _, p := range []struct {
		name string
		dst  *gpio.PinOut
	}{{mp.Speed, &pins.Speed}, {mp.High, &pins.High}, {mp.Low, &pins.Low}} {
		out, err := lookupOut(pwm, p.name)
		if err != nil {
			return pins, err
		}
		*p.dst = out
	}
	return pins, nil
}

func lookupOut(pwm *pca9685.PCA9685, name string) (gpio.PinOut, error) {
	if strings.HasPrefix(name, "pca9685:") {
		if pwm == nil {
			return nil, errors.Errorf("pin %q: no PCA9685", name)
		}
		port, err := strconv.Atoi(strings.TrimPrefix(name, "pca9685:"))
		if err != nil {
			return nil, errors.Wrapf(err, "pin %q", name)
		}
		return pwm.Pin(port), nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no pin named %q", name)
	}
	return p, nil
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Info("Signal: ", s)
		cancelFunc()
	}()
}
