package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the meldiff configuration file
// (~/.config/meldiff/config.yaml).  Fields are pointers where we need to
// distinguish "not set" from zero values.
type Config struct {
	CheckpointPath string `yaml:"checkpoint_path"`
	MelChannels    *int64 `yaml:"mel_channels"`

	// Sampling defaults
	Sampler  string   `yaml:"sampler"`
	Steps    *int64   `yaml:"steps"`
	Strength *float64 `yaml:"strength"`
	Seed     *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "meldiff", "config.yaml")
}

// applyCommonConfig applies config file defaults shared by sample and serve
// when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.CheckpointPath != "" && !c.IsSet("checkpoint") {
		checkpointPath = cfg.CheckpointPath
	}
	if cfg.MelChannels != nil && !c.IsSet("mel-channels") {
		melChannels = *cfg.MelChannels
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySampleConfig applies config file defaults to sample command variables.
func applySampleConfig(c *cli.Command, cfg Config,
	samplerKind *string, steps *int64, strength *float64, strengthSet *bool, seed *int64,
) {
	applyCommonConfig(c, cfg)
	if cfg.Sampler != "" && !c.IsSet("sampler") {
		*samplerKind = cfg.Sampler
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Strength != nil && !c.IsSet("strength") {
		*strength = *cfg.Strength
		*strengthSet = true
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
