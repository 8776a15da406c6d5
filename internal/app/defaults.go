package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FILEDROP_CONFIG_PATH: config file location (default: ~/.config/filedrop.toml)
//   - FILEDROP_HOME: base directory for filedrop data (default: ~/.local/share/filedrop)
//   - FILEDROP_SERVER: server URL used by client commands (default: http://localhost:8787)
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
		"server_url":  getServerURL(),
	}, nil
}

// getConfigPath returns the config file path, checking FILEDROP_CONFIG_PATH first,
// then falling back to ~/.config/filedrop.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("FILEDROP_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "filedrop.toml"), nil
}

// getBaseDir returns the base directory for filedrop data, checking FILEDROP_HOME
// first, then falling back to the XDG default ~/.local/share/filedrop.
func getBaseDir() (string, error) {
	if path := os.Getenv("FILEDROP_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "filedrop"), nil
}

func getServerURL() string {
	if url := os.Getenv("FILEDROP_SERVER"); url != "" {
		return url
	}
	return "http://localhost:8787"
}
