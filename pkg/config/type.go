package config

import "time"

const FileName = "ambient_client.toml"

// Config of the ambient_client daemon.
// Timezone is the IANA zone the device clock runs in, empty means local time.
// An empty DbPath uses the default path in the data dir.
type Config struct {
	SerialDevice  string `toml:"serial_device"`
	Baudrate      uint   `toml:"baudrate"`
	Timezone      string `toml:"timezone"`
	DbPath        string `toml:"db_path"`
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	Upload UploadConfig `toml:"upload"`
	Mqtt   MqttConfig   `toml:"mqtt"`
	Log    LogConfig    `toml:"log"`
}

type UploadConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	DeviceID       string   `toml:"device_id"`
	Types          []string `toml:"types"`
	IdleInterval   Duration `toml:"idle_interval"`
	RequestTimeout Duration `toml:"request_timeout"`
	AlertAfter     int      `toml:"alert_after"`
	ValueFormat    string   `toml:"value_format"` // "int" or "float"
}

type MqttConfig struct {
	Enabled  bool   `toml:"enabled"`
	Server   string `toml:"server"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Format string `toml:"format"`
}

// Duration is written to the config file as a Go duration string like "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}
