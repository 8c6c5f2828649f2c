package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// location is where one default path comes from, in order of precedence:
// an fsgraph variable naming the path itself, an XDG base directory, and a
// fixed place under the home directory.
type location struct {
	env  string
	xdg  string
	name string
	home []string
}

var (
	configLocation = location{
		env:  "FSGRAPH_CONFIG_PATH",
		xdg:  "XDG_CONFIG_HOME",
		name: "fsgraph.toml",
		home: []string{".config", "fsgraph.toml"},
	}
	dataLocation = location{
		env:  "FSGRAPH_HOME",
		xdg:  "XDG_DATA_HOME",
		name: "fsgraph",
		home: []string{".local", "share", "fsgraph"},
	}
)

func (l location) resolve() (string, error) {
	if path := os.Getenv(l.env); path != "" {
		return path, nil
	}
	if dir := os.Getenv(l.xdg); dir != "" {
		return filepath.Join(dir, l.name), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, l.home...)...), nil
}

// GetDefaults returns the config file path and the data directories.
// The store and the logs live under base_dir unless the config says
// otherwise.
func GetDefaults() (map[string]string, error) {
	configPath, err := configLocation.resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	baseDir, err := dataLocation.resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"data_dir":    filepath.Join(baseDir, "db"),
	}, nil
}
