package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
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
			name:       "explicit overrides",
			env:        map[string]string{"DEDUP_CONFIG_PATH": "/etc/dedup.toml", "DEDUP_HOME": "/srv/dedup", "XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/etc/dedup.toml",
			wantBase:   "/srv/dedup",
		},
		{
			name:       "xdg directories",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/xdg/config/dedup.toml",
			wantBase:   "/xdg/data/dedup",
		},
		{
			name:       "home fallback",
			wantConfig: filepath.Join(home, ".config", "dedup.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "dedup"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"DEDUP_CONFIG_PATH", "DEDUP_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(key, tt.env[key])
			}

			paths, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if paths.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, tt.wantConfig)
			}
			if paths.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", paths.BaseDir, tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); paths.LogDir() != want {
				t.Errorf("LogDir() = %q, want %q", paths.LogDir(), want)
			}
		})
	}
}
