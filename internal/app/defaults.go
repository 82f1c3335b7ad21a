package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PDRB_CONFIG_PATH: config file location (default: ~/.config/pdrb.toml)
//   - PDRB_HOME: base directory for archives, logs and the store (default: ~/.local/share/pdrb)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("PDRB_CONFIG_PATH", ".config", "pdrb.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome("PDRB_HOME", ".local", "share", "pdrb")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"archive_dir": filepath.Join(baseDir, "backups"),
	}, nil
}

// envOrHome returns $key, or the path under the user's home directory.
func envOrHome(key string, elem ...string) (string, error) {
	if path := os.Getenv(key); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
