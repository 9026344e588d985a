package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DeviceName  string            `yaml:"device_name"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Lock        LockConfig        `yaml:"lock"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Sim         SimConfig         `yaml:"sim"`
	LogLevel    string            `yaml:"log_level"`
}

// HardwareConfig selects the I/O backend and its pins (BCM numbering on
// the Raspberry Pi).
type HardwareConfig struct {
	Backend      string `yaml:"backend"` // "rpi" or "sim"
	ButtonPin    int    `yaml:"button_pin"`
	IndicatorPin int    `yaml:"indicator_pin"`
	ServoPin     int    `yaml:"servo_pin"`
}

// LockConfig holds the servo positions in degrees.
type LockConfig struct {
	LockedAngle   int `yaml:"locked_angle"`
	UnlockedAngle int `yaml:"unlocked_angle"`
}

// AdvertisingConfig holds radio settings.
type AdvertisingConfig struct {
	TxPower int `yaml:"tx_power"` // dBm
}

// SimConfig holds simulator settings.
type SimConfig struct {
	ConfirmKeys []string `yaml:"confirm_keys"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ble-doorlock")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: "BLE Door Lock",
		Hardware: HardwareConfig{
			Backend:      "rpi",
			ButtonPin:    21,
			IndicatorPin: 17,
			ServoPin:     18,
		},
		Lock: LockConfig{
			LockedAngle:   10,
			UnlockedAngle: 110,
		},
		Advertising: AdvertisingConfig{
			TxPower: -9,
		},
		Sim: SimConfig{
			ConfirmKeys: []string{"ctrl", "shift", "c"},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if len(c.DeviceName) > 248 {
		return fmt.Errorf("device_name must be at most 248 bytes, got %d", len(c.DeviceName))
	}

	switch c.Hardware.Backend {
	case "rpi":
		pins := []struct {
			name string
			pin  int
		}{
			{"button_pin", c.Hardware.ButtonPin},
			{"indicator_pin", c.Hardware.IndicatorPin},
			{"servo_pin", c.Hardware.ServoPin},
		}
		seen := make(map[int]string)
		for _, p := range pins {
			if p.pin < 0 || p.pin > 27 {
				return fmt.Errorf("hardware.%s must be a BCM pin 0-27, got %d", p.name, p.pin)
			}
			if other, dup := seen[p.pin]; dup {
				return fmt.Errorf("hardware.%s and hardware.%s share pin %d", other, p.name, p.pin)
			}
			seen[p.pin] = p.name
		}
		switch c.Hardware.ServoPin {
		case 12, 13, 18, 19:
		default:
			return fmt.Errorf("hardware.servo_pin must be a hardware PWM pin (12, 13, 18, 19), got %d", c.Hardware.ServoPin)
		}
	case "sim":
		if len(c.Sim.ConfirmKeys) == 0 {
			return fmt.Errorf("sim.confirm_keys must not be empty")
		}
	default:
		return fmt.Errorf("hardware.backend must be \"rpi\" or \"sim\", got %q", c.Hardware.Backend)
	}

	for _, a := range []struct {
		name string
		deg  int
	}{
		{"lock.locked_angle", c.Lock.LockedAngle},
		{"lock.unlocked_angle", c.Lock.UnlockedAngle},
	} {
		if a.deg < 0 || a.deg > 180 {
			return fmt.Errorf("%s must be 0-180, got %d", a.name, a.deg)
		}
	}
	if c.Lock.LockedAngle == c.Lock.UnlockedAngle {
		return fmt.Errorf("lock.locked_angle and lock.unlocked_angle must differ")
	}

	if c.Advertising.TxPower < -12 || c.Advertising.TxPower > 9 {
		return fmt.Errorf("advertising.tx_power must be -12 to 9 dBm, got %d", c.Advertising.TxPower)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultHeader = `# ble-doorlock configuration
# backend "rpi" drives BCM GPIO pins; "sim" uses a global hotkey as the
# confirm button and logs the indicator and servo.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" without touching anything if a file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
