package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	geiger "github.com/luhtfiimanal/go-geiger"
	"github.com/luhtfiimanal/go-geiger/serial"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaudRate         = 9600
	DefaultReadTimeout      = time.Second
	DefaultDelimiter        = "\n"
	DefaultDriver           = DriverTermios
	DefaultOnParseError     = PolicySkip
	DefaultSubscriberBuffer = geiger.DefaultBufferSize
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Device drivers.
const (
	DriverTermios  = "termios"
	DriverPortable = "portable"
)

// Parse failure policies.
const (
	PolicySkip  = "skip"
	PolicyAbort = "abort"
)

// Config is the top-level configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DeviceConfig describes the serial link to the detector.
type DeviceConfig struct {
	// Address is the port path, e.g. /dev/ttyUSB0.
	Address     string        `yaml:"address"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Delimiter   string        `yaml:"delimiter"`
	// Driver is one of: termios | portable.
	Driver string `yaml:"driver"`
}

// Serial returns the serial package config for this device.
func (d DeviceConfig) Serial() serial.Config {
	return serial.Config{
		Device:      d.Address,
		BaudRate:    d.BaudRate,
		Delimiter:   d.Delimiter,
		ReadTimeout: d.ReadTimeout,
	}
}

// CalibrationConfig holds the CPM to dose conversion factors.
type CalibrationConfig struct {
	CPMPerUSvPerHour float64 `yaml:"cpm_per_usv_per_hour"`
	HoursPerYear     float64 `yaml:"hours_per_year"`
}

// Calibration converts to the library type.
func (c CalibrationConfig) Calibration() geiger.Calibration {
	return geiger.Calibration{
		CPMPerUSvPerHour: c.CPMPerUSvPerHour,
		HoursPerYear:     c.HoursPerYear,
	}
}

// AcquisitionConfig tunes the acquisition loop.
type AcquisitionConfig struct {
	// OnParseError is one of: skip | abort.
	OnParseError     string `yaml:"on_parse_error"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
}

// ParsePolicy converts OnParseError to the library type.
func (a AcquisitionConfig) ParsePolicy() geiger.ParsePolicy {
	if a.OnParseError == PolicyAbort {
		return geiger.AbortOnMalformed
	}
	return geiger.SkipMalformed
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: text | json.
	Format string `yaml:"format"`
}

// SlogLevel parses Level. Validate has already rejected unknown values.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// MetricsConfig configures the Prometheus textfile exporter.
type MetricsConfig struct {
	// TextfilePath is where the exporter writes; empty disables it.
	TextfilePath string `yaml:"textfile_path"`
}

// Load reads, parses and validates the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply overrides (such as
// command-line flags) before calling Validate themselves.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values. The device
// address has no default.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			BaudRate:    DefaultBaudRate,
			ReadTimeout: DefaultReadTimeout,
			Delimiter:   DefaultDelimiter,
			Driver:      DefaultDriver,
		},
		Calibration: CalibrationConfig{
			CPMPerUSvPerHour: geiger.DefaultCPMPerUSvPerHour,
			HoursPerYear:     geiger.DefaultHoursPerYear,
		},
		Acquisition: AcquisitionConfig{
			OnParseError:     DefaultOnParseError,
			SubscriberBuffer: DefaultSubscriberBuffer,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Validate checks required fields and enums.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Address) == "" {
		return fmt.Errorf("device.address is required")
	}
	if c.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive")
	}
	if c.Device.ReadTimeout <= 0 {
		return fmt.Errorf("device.read_timeout must be positive")
	}
	if c.Device.Delimiter == "" {
		return fmt.Errorf("device.delimiter must not be empty")
	}
	switch c.Device.Driver {
	case DriverTermios, DriverPortable:
	default:
		return fmt.Errorf("device.driver: unknown driver %q", c.Device.Driver)
	}
	if err := c.Calibration.Calibration().Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	switch c.Acquisition.OnParseError {
	case PolicySkip, PolicyAbort:
	default:
		return fmt.Errorf("acquisition.on_parse_error: unknown policy %q", c.Acquisition.OnParseError)
	}
	if c.Acquisition.SubscriberBuffer <= 0 {
		return fmt.Errorf("acquisition.subscriber_buffer must be positive")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}
