package pathing

import (
	"os"
	"path/filepath"
)

const (
	DataDirEnv   = "AMBIENT_DATA_DIR"
	ConfigDirEnv = "AMBIENT_CONFIG_DIR"
)

// EnsureDirs creates the data and config directories if they do not exist.
func EnsureDirs() error {
	for _, dir := range []string{GetDataDir(), GetConfigDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetAmbientDbPath() string {
	return filepath.Join(GetDataDir(), "ambient_data.db")
}

func GetDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	return "/var/lib/ambient_client"
}

func GetConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	return "/etc/ambient_client"
}
