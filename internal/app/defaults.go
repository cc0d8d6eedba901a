package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the default locations of the config file and the data directory.
type Paths struct {
	ConfigPath string
	BaseDir    string
}

// DefaultPaths resolves Paths from the environment. Each location is taken
// from the first source that is set:
//
//	config: $DEDUP_CONFIG_PATH, $XDG_CONFIG_HOME/dedup.toml, ~/.config/dedup.toml
//	data:   $DEDUP_HOME, $XDG_DATA_HOME/dedup, ~/.local/share/dedup
func DefaultPaths() (Paths, error) {
	configPath, err := resolvePath("DEDUP_CONFIG_PATH", "XDG_CONFIG_HOME", "dedup.toml", ".config")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := resolvePath("DEDUP_HOME", "XDG_DATA_HOME", "dedup", ".local", "share")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigPath: configPath, BaseDir: baseDir}, nil
}

// LogDir is where the log file goes unless the config names another directory.
func (p Paths) LogDir() string { return filepath.Join(p.BaseDir, "log") }

func resolvePath(override, xdg, name string, homeRel ...string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdg); dir != "" {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), name)...), nil
}
