package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name: "explicit env vars",
			env: map[string]string{
				"WALRECOVER_CONFIG_PATH": "/etc/walrecover/config.toml",
				"WALRECOVER_HOME":        "/var/lib/walrecover",
			},
			wantConfig: "/etc/walrecover/config.toml",
			wantBase:   "/var/lib/walrecover",
		},
		{
			name: "xdg directories",
			env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/xdg/config/walrecover.toml",
			wantBase:   "/xdg/data/walrecover",
		},
		{
			name: "relative xdg ignored",
			env: map[string]string{
				"XDG_CONFIG_HOME": "relative/config",
			},
			wantConfig: filepath.Join(home, ".config", "walrecover.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "walrecover"),
		},
		{
			name:       "home fallback",
			wantConfig: filepath.Join(home, ".config", "walrecover.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "walrecover"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"WALRECOVER_CONFIG_PATH", "WALRECOVER_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(k, tt.env[k])
			}

			d, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if d.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, tt.wantConfig)
			}
			if d.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", d.BaseDir, tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); d.LogDir != want {
				t.Errorf("LogDir = %q, want %q", d.LogDir, want)
			}
		})
	}
}
