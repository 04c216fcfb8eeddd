// Package config loads parbench settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by the run command.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputCSV   = "csv"
	OutputJSONL = "jsonl"
)

// DefaultFiles are searched in order when no config path is given.
var DefaultFiles = []string{"parbench.yaml", ".parbench.yaml"}

// Config holds every setting the CLI reads from file.
type Config struct {
	Executable string        `yaml:"executable"`
	WorkDir    string        `yaml:"work_dir"`
	Timeout    time.Duration `yaml:"timeout"`

	ProjectDir  string `yaml:"project_dir"`
	BuildDir    string `yaml:"build_dir"`
	BuildTarget string `yaml:"build_target"`
	BuildType   string `yaml:"build_type"`
	Jobs        int    `yaml:"jobs"`

	DBPath      string `yaml:"db_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	Output      string `yaml:"output"`

	// SavePath also writes results to a file as they arrive: CSV for a
	// .csv extension, JSON Lines otherwise.
	SavePath string `yaml:"save_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     30 * time.Minute,
		ProjectDir:  ".",
		BuildDir:    "build",
		BuildTarget: "parallel_benchmark",
		BuildType:   "Release",
		Output:      OutputTable,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads path, or the first of DefaultFiles that exists when path is
// empty. Missing default files are not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var (
		data []byte
		err  error
	)

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}

		if path == "" {
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that cannot be caught by YAML decoding.
func (c *Config) Validate() error {
	switch c.Output {
	case OutputTable, OutputJSON, OutputCSV, OutputJSONL:
	default:
		return fmt.Errorf("unknown output format %q", c.Output)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}

	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative: %d", c.Jobs)
	}

	return nil
}
