package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RadioDriver identifies which radio backend should be used.
type RadioDriver string

const (
	// RadioSim runs the bridge against a simulated medium with an echo
	// station, for operating without transceiver hardware.
	RadioSim RadioDriver = "sim"

	DefaultSerialBaud   = 115200
	DefaultEchoDelayMS  = 50
	DefaultTelemetryDB  = "telemetry.db"
	defaultLoggingLevel = "info"
)

// SerialConfig defines the host-side serial port.
type SerialConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// RadioConfig selects and tunes the radio backend.
type RadioConfig struct {
	Driver RadioDriver `json:"driver"`
	// EchoDelayMS delays the simulated echo station's reply, sim driver only.
	EchoDelayMS int `json:"echo_delay_ms"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// TelemetryConfig controls persistence of signal quality reports.
type TelemetryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AppConfig is the root persisted bridge configuration.
type AppConfig struct {
	Serial    SerialConfig    `json:"serial"`
	Radio     RadioConfig     `json:"radio"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

func Default() AppConfig {
	return AppConfig{
		Serial: SerialConfig{
			Port: "",
			Baud: DefaultSerialBaud,
		},
		Radio: RadioConfig{
			Driver:      RadioSim,
			EchoDelayMS: DefaultEchoDelayMS,
		},
		Logging: LoggingConfig{
			Level:     defaultLoggingLevel,
			LogToFile: false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Path:    DefaultTelemetryDB,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = DefaultSerialBaud
	}
	if c.Radio.Driver == "" {
		c.Radio.Driver = RadioSim
	}
	if c.Radio.EchoDelayMS < 0 {
		c.Radio.EchoDelayMS = DefaultEchoDelayMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLoggingLevel
	}
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = DefaultTelemetryDB
	}
}

func (c AppConfig) Validate() error {
	switch c.Radio.Driver {
	case RadioSim:
	default:
		return fmt.Errorf("unknown radio driver: %s", c.Radio.Driver)
	}
	if strings.TrimSpace(c.Serial.Port) != "" && c.Serial.Baud <= 0 {
		return errors.New("serial baud must be positive")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Path) == "" {
		return errors.New("telemetry path is required when telemetry is enabled")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
