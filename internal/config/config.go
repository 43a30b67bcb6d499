// Package config resolves runtime settings from defaults, an optional YAML
// file, and environment overrides, in that order.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/session"
)

// Config carries every tunable the binaries need.
type Config struct {
	DBPath      string `yaml:"db_path"`
	ProjectsDir string `yaml:"projects_dir"`
	JournalPath string `yaml:"journal_path"`
	Workers     int    `yaml:"workers"`
	MaxDepth    int    `yaml:"max_depth"`
}

// Default returns the built-in configuration.
func Default() *Config {
	stateDir := defaultStateDir()
	return &Config{
		DBPath:      filepath.Join(stateDir, "lineage.db"),
		ProjectsDir: session.DefaultProjectsDir(),
		JournalPath: filepath.Join(stateDir, "journal.jsonl"),
		Workers:     4,
		MaxDepth:    100,
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lineage"
	}
	return filepath.Join(home, ".lineage")
}

// Load resolves the effective configuration: defaults first, then the YAML
// file named by LINEAGE_CONFIG if set, then per-field environment overrides.
func Load() *Config {
	cfg := Default()

	if path := os.Getenv("LINEAGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			logging.Warn("config", "failed to load %s: %v", path, err)
		} else {
			logging.Info("config", "loaded %s", path)
		}
	}

	if v := os.Getenv("LINEAGE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LINEAGE_PROJECTS"); v != "" {
		cfg.ProjectsDir = v
	}
	if v := os.Getenv("LINEAGE_JOURNAL"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("LINEAGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("LINEAGE_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxDepth = n
		}
	}

	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}
