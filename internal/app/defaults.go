package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths walrecover uses when nothing else is configured.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths, checking environment variables first:
//   - WALRECOVER_CONFIG_PATH: config file (default: $XDG_CONFIG_HOME/walrecover.toml)
//   - WALRECOVER_HOME: data directory (default: $XDG_DATA_HOME/walrecover)
//
// Unset XDG variables fall back to ~/.config and ~/.local/share.
func GetDefaults() (*Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("WALRECOVER_CONFIG_PATH"); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "walrecover.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("WALRECOVER_HOME"); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "walrecover"), nil
}

// xdgDir returns $env when it is an absolute path, else ~/fallback.
func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, fallback), nil
}
