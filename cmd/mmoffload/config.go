package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the mmoffload configuration file
// (~/.config/mmoffload/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// Problem geometry
	Size      *int   `yaml:"size"`
	MaxSize   *int   `yaml:"max_size"`
	BlockSize *int   `yaml:"block_size"`
	Kernel    string `yaml:"kernel"`
	Aligned   *bool  `yaml:"aligned"`

	// Runtime
	Runtime    string `yaml:"runtime"`
	XclbinDir  string `yaml:"xclbin_dir"`
	DeviceName string `yaml:"device_name"`
	Workers    *int   `yaml:"workers"`

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
	return filepath.Join(dir, "mmoffload", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flagSetter is the part of *cli.Command the apply helpers need.
type flagSetter interface {
	IsSet(name string) bool
}

var _ flagSetter = (*cli.Command)(nil)

// applyPipelineConfig applies config file defaults to geometry and runtime
// variables when the corresponding CLI flag was not explicitly set.
func applyPipelineConfig(c flagSetter, cfg Config) {
	if cfg.Size != nil && !c.IsSet("size") {
		size = *cfg.Size
	}
	if cfg.MaxSize != nil && !c.IsSet("max-size") {
		maxSize = *cfg.MaxSize
	}
	if cfg.BlockSize != nil && !c.IsSet("block-size") {
		blockSize = *cfg.BlockSize
	}
	if cfg.Kernel != "" && !c.IsSet("kernel") {
		kernelName = cfg.Kernel
	}
	if cfg.Aligned != nil && !c.IsSet("unaligned") {
		unaligned = !*cfg.Aligned
	}
	applyRuntimeConfig(c, cfg)
}

func applyRuntimeConfig(c flagSetter, cfg Config) {
	if cfg.Runtime != "" && !c.IsSet("runtime") {
		runtimeName = cfg.Runtime
	}
	if cfg.XclbinDir != "" && !c.IsSet("xclbin-dir") {
		xclbinDir = cfg.XclbinDir
	}
	if cfg.DeviceName != "" && !c.IsSet("device-name") {
		deviceName = cfg.DeviceName
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

func applyLoggingConfig(c flagSetter, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") && !c.IsSet("debug") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c flagSetter, cfg Config, addr *string) {
	applyPipelineConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
