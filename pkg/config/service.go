package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dotpulse/ambient_client/pkg/pathing"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid config")

func Default() *Config {
	return &Config{
		SerialDevice:  "/dev/ttyUSB0",
		Baudrate:      115200,
		ListenAddress: "0.0.0.0",
		ListenPort:    9040,
		Upload: UploadConfig{
			Enabled:        true,
			Endpoint:       "http://192.168.0.15:9000/ambient-data/",
			DeviceID:       uuid.Nil.String(),
			Types:          []string{"T", "R", "P", "CO2"},
			IdleInterval:   Duration{5 * time.Second},
			RequestTimeout: Duration{10 * time.Second},
			AlertAfter:     10,
			ValueFormat:    "int",
		},
		Mqtt: MqttConfig{
			Server:   "tcp://localhost:1883",
			ClientID: "ambient_client",
			Topic:    "ambient",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads ambient_client.toml from dir, or from the config dir when dir is
// empty. A default file is written when none exists yet.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = pathing.GetConfigDir()
	}
	configPath := filepath.Join(dir, FileName)

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Default()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return nil, err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile decodes a config file on top of the defaults and validates it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range md.Undecoded() {
		logrus.WithField("key", key.String()).Warn("Unknown config key ignored")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every value that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.SerialDevice == "" {
		fail("serial_device is empty")
	}
	if c.Baudrate == 0 {
		fail("baudrate must be positive")
	}
	if _, err := c.Location(); err != nil {
		fail("timezone %q: %v", c.Timezone, err)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		fail("listen_port %d out of range", c.ListenPort)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		fail("log level: %v", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		fail("log format %q, want text or json", c.Log.Format)
	}

	if c.Upload.Enabled {
		if u, err := url.Parse(c.Upload.Endpoint); err != nil || u.Host == "" {
			fail("upload endpoint %q is not a valid url", c.Upload.Endpoint)
		}
		if _, err := uuid.Parse(c.Upload.DeviceID); err != nil {
			fail("upload device_id: %v", err)
		}
		if _, err := c.SensorTypes(); err != nil {
			fail("upload types: %v", err)
		}
		if c.Upload.IdleInterval.Duration <= 0 || c.Upload.RequestTimeout.Duration <= 0 {
			fail("upload intervals must be positive")
		}
		if c.Upload.AlertAfter < 0 {
			fail("upload alert_after must not be negative")
		}
		switch c.Upload.ValueFormat {
		case "", "int", "float":
		default:
			fail("upload value_format %q, want int or float", c.Upload.ValueFormat)
		}
	}

	if c.Mqtt.Enabled {
		if c.Mqtt.Server == "" {
			fail("mqtt server is empty")
		}
		if c.Mqtt.Topic == "" || strings.ContainsAny(c.Mqtt.Topic, "+#") {
			fail("mqtt topic %q is not a valid publish topic", c.Mqtt.Topic)
		}
	}

	return errors.Join(errs...)
}

// Location returns the zone device timestamps are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SensorTypes parses the configured upload types in order.
func (c *Config) SensorTypes() ([]types.SensorType, error) {
	if len(c.Upload.Types) == 0 {
		return types.AllSensorTypes, nil
	}
	out := make([]types.SensorType, 0, len(c.Upload.Types))
	seen := make(map[types.SensorType]bool)
	for _, s := range c.Upload.Types {
		t, err := types.ParseSensorType(s)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("type %s listed twice", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

func (c *Config) DeviceID() uuid.UUID {
	id, err := uuid.Parse(c.Upload.DeviceID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (c *Config) DatabasePath() string {
	if c.DbPath != "" {
		return c.DbPath
	}
	return pathing.GetAmbientDbPath()
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}
