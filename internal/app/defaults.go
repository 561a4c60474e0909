package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the default config path, base directory and log
// directory. Environment variables take precedence:
//   - DMS_CONFIG_PATH: config file location (default: ~/.config/dms.toml)
//   - DMS_HOME: base directory for dms data (default: ~/.local/share/dms)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath prefers DMS_CONFIG_PATH over ~/.config/dms.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DMS_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dms.toml"), nil
}

// getBaseDir prefers DMS_HOME over the XDG default ~/.local/share/dms.
func getBaseDir() (string, error) {
	if path := os.Getenv("DMS_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "dms"), nil
}
