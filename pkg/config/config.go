// Package config loads the board description from YAML, with a few environment
// overrides for the things that differ between bench setups.
package config

import (
	"io/ioutil"
	"os"

	"github.com/caarlos0/env"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/board"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

const DefaultPath = "/cfg/dualmotor.yaml"

// MotorPins names the pins of one motor. Bridge inputs are either gpioreg names or
// "pca9685:<port>" for an output of the PWM expander.
type MotorPins struct {
	Speed    string `yaml:"speed"`
	High     string `yaml:"high"`
	Low      string `yaml:"low"`
	EncoderA string `yaml:"encoder_a"`
	EncoderB string `yaml:"encoder_b"`
	// CurrentAddr is the INA219 measuring this motor, 0 for none.
	CurrentAddr int `yaml:"current_addr"`
}

type Timebase struct {
	TicksPerRev float64 `yaml:"ticks_per_rev"`
	RefreshHz   float64 `yaml:"refresh_hz"`
	// RateScale of 0 takes the selected register map's scale.
	RateScale float64 `yaml:"rate_scale"`
}

type Config struct {
	RegisterMap string       `yaml:"register_map"`
	Timebase    Timebase     `yaml:"timebase"`
	Motors      [2]MotorPins `yaml:"motors"`

	PWMFrequencyHz int     `yaml:"pwm_frequency_hz"`
	ShuntOhms      float64 `yaml:"shunt_ohms"`
	MaxCurrent     float64 `yaml:"max_current"`
	ADCPeriodMs    int     `yaml:"adc_period_ms"`

	I2CDev string `yaml:"i2c_dev"`
	// MuxPort selects a TCA9548A port before the I2C devices are opened, -1 for none.
	MuxPort   int    `yaml:"mux_port"`
	BoardAddr int    `yaml:"board_addr"`
	Settings  string `yaml:"settings"`
	LogLevel  string `yaml:"log_level"`
	Listen    string `yaml:"listen"`
}

// Env holds the environment overrides. Empty values leave the file's setting alone.
type Env struct {
	Config   string `env:"DMD_CONFIG" envDefault:"/cfg/dualmotor.yaml"`
	Settings string `env:"DMD_SETTINGS"`
	LogLevel string `env:"DMD_LOG_LEVEL"`
	Listen   string `env:"DMD_LISTEN"`
	I2CDev   string `env:"DMD_I2C_DEV"`
}

func Default() Config {
	tb := motor.DefaultTimebase()
	return Config{
		RegisterMap: "^2.0.0",
		Timebase: Timebase{
			TicksPerRev: tb.TicksPerRev,
			RefreshHz:   tb.RefreshHz,
		},
		Motors: [2]MotorPins{
			{Speed: "pca9685:0", High: "pca9685:1", Low: "pca9685:2", EncoderA: "GPIO17", EncoderB: "GPIO27", CurrentAddr: 0x41},
			{Speed: "pca9685:3", High: "pca9685:4", Low: "pca9685:5", EncoderA: "GPIO22", EncoderB: "GPIO23", CurrentAddr: 0x44},
		},
		PWMFrequencyHz: 1000,
		ShuntOhms:      0.1,
		MaxCurrent:     3.2,
		ADCPeriodMs:    2,
		I2CDev:         "/dev/i2c-1",
		MuxPort:        -1,
		BoardAddr:      0x03,
		Settings:       "/cfg/dualmotor-settings.db",
		LogLevel:       "info",
		Listen:         ":8080",
	}
}

// Load reads the file at path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithField("path", path).Warn("No config file, using defaults")
		return c, nil
	}
	if err != nil {
		return c, errors.Wrap(err, "config: read")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "config: parse %s", path)
	}
	return c, nil
}

// FromEnv reads the environment, loads the file it names and applies the overrides.
func FromEnv() (Config, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Default(), errors.Wrap(err, "config: environment")
	}
	c, err := Load(e.Config)
	if err != nil {
		return c, err
	}
	c.Override(e)
	return c, nil
}

func (c *Config) Override(e Env) {
	for _, o := range []struct {
		dst *string
		v   string
	}{
		{&c.Settings, e.Settings},
		{&c.LogLevel, e.LogLevel},
		{&c.Listen, e.Listen},
		{&c.I2CDev, e.I2CDev},
	} {
		if o.v != "" {
			*o.dst = o.v
		}
	}
}

// ConfigureLogging sets the logrus level.
func (c Config) ConfigureLogging() error {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "config: log level")
	}
	log.SetLevel(lvl)
	return nil
}

// Board resolves the register map and timebase.
func (c Config) Board() (board.Config, error) {
	m, err := regmap.Select(c.RegisterMap)
	if err != nil {
		return board.Config{}, err
	}
	if c.Timebase.RefreshHz <= 0 {
		return board.Config{}, errors.Errorf("config: refresh_hz must be positive, got %v", c.Timebase.RefreshHz)
	}
	return board.Config{
		Map: m,
		Timebase: motor.Timebase{
			TicksPerRev: c.Timebase.TicksPerRev,
			RefreshHz:   c.Timebase.RefreshHz,
			RateScale:   c.Timebase.RateScale,
		},
	}, nil
}

// WriteInUse writes out the config that is actually in effect.
func (c Config) WriteInUse(path string) error {
	log.WithField("config", c).Debug("Using config")
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "config: marshal")
	}
	return errors.Wrap(ioutil.WriteFile(path, data, 0666), "config: write in-use copy")
}
