package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "GLIDERDAC_CONFIG_PATH" // default ~/.config/gliderdac.toml
	EnvHome       = "GLIDERDAC_HOME"        // default ~/.local/share/gliderdac
	EnvDataRoot   = "GLIDERDAC_DATA_ROOT"   // default $GLIDERDAC_HOME/data
)

// GetDefaults returns the default config path, base directory, log directory
// and deployment data root.
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "gliderdac.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "gliderdac")
	if err != nil {
		return nil, err
	}

	dataRoot := os.Getenv(EnvDataRoot)
	if dataRoot == "" {
		dataRoot = filepath.Join(baseDir, "data")
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"data_root":   dataRoot,
	}, nil
}

// fromEnvOrHome returns the value of env, or the path below the user's home
// directory when it is unset.
func fromEnvOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
