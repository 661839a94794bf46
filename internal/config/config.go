package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"goodracer/internal/display"
	"goodracer/internal/gps"
	"goodracer/internal/logging"
)

const (
	GPSSourceSerial = "serial"
	GPSSourceGPSD   = "gpsd"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	GPS     GPSConfig     `yaml:"gps"`
	Display DisplayConfig `yaml:"display"`
	Web     WebConfig     `yaml:"web"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type GPSConfig struct {
	// Source is "serial" (default) or "gpsd".
	Source    string `yaml:"source"`
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	QueryInfo bool   `yaml:"query_info"`
	GPSDAddr  string `yaml:"gpsd_addr"`

	// ForwardUDP relays every received sentence to host[:port]. Empty
	// disables forwarding.
	ForwardUDP string `yaml:"forward_udp"`
}

type WebConfig struct {
	// Listen is the status server address, e.g. ":8080". Empty disables it.
	Listen string `yaml:"listen"`
}

type DisplayConfig struct {
	Enable   bool   `yaml:"enable"`
	Bus      string `yaml:"bus"`
	Addr     uint16 `yaml:"addr"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	ResetPin int    `yaml:"reset_pin"`
}

// Default is what runs when no config file is given.
func Default() Config {
	cfg := defaults()
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func defaults() Config {
	return Config{
		GPS:     GPSConfig{QueryInfo: true},
		Display: DisplayConfig{Enable: true},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Display and receiver queries default to on; an explicit false in the
	// file wins.
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects invalid settings.
// An unsupported baud rate is not an error here; it falls back to the
// default when the receiver is opened.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level must be one of error, warn, info, debug")
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = GPSSourceSerial
	}
	switch cfg.GPS.Source {
	case GPSSourceSerial:
		if strings.TrimSpace(cfg.GPS.Device) == "" {
			cfg.GPS.Device = "/dev/serial0"
		}
	case GPSSourceGPSD:
		if strings.TrimSpace(cfg.GPS.GPSDAddr) == "" {
			cfg.GPS.GPSDAddr = "127.0.0.1:2947"
		}
	default:
		return fmt.Errorf("gps.source must be serial or gpsd")
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = gps.DefaultBaud
	}
	cfg.GPS.ForwardUDP = strings.TrimSpace(cfg.GPS.ForwardUDP)

	if cfg.Display.Bus == "" {
		cfg.Display.Bus = display.DefaultBus
	}
	if cfg.Display.Addr == 0 {
		cfg.Display.Addr = display.DefaultAddr
	}
	if cfg.Display.Addr > 0x7F {
		return fmt.Errorf("display.addr must be a 7-bit address")
	}
	if cfg.Display.Width == 0 {
		cfg.Display.Width = display.DefaultWidth
	}
	if cfg.Display.Height == 0 {
		cfg.Display.Height = display.DefaultHeight
	}
	if cfg.Display.Width < 1 || cfg.Display.Width > 128 {
		return fmt.Errorf("display.width must be in 1..128")
	}
	if cfg.Display.Height < 8 || cfg.Display.Height > 64 || cfg.Display.Height%8 != 0 {
		return fmt.Errorf("display.height must be a multiple of 8 in 8..64")
	}
	if cfg.Display.ResetPin < 0 {
		return fmt.Errorf("display.reset_pin must be >= 0")
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	if cfg.Web.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web.listen must be host:port")
		}
	}

	return nil
}

// DriverConfig converts to the driver's configuration.
func (d DisplayConfig) DriverConfig() display.Config {
	return display.Config{
		Bus:      d.Bus,
		Addr:     d.Addr,
		Width:    d.Width,
		Height:   d.Height,
		ResetPin: d.ResetPin,
	}
}

// SerialConfig converts to the serial source configuration.
func (g GPSConfig) SerialConfig(log *logging.Logger) gps.Config {
	return gps.Config{
		Device:    g.Device,
		Baud:      g.Baud,
		QueryInfo: g.QueryInfo,
		Logger:    log,
	}
}
