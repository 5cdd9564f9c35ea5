package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional config file (~/.config/nexttoken/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Provider      string         `yaml:"provider"`
	Model         string         `yaml:"model"`
	ModelsDir     string         `yaml:"models_dir"`
	Device        string         `yaml:"device"`
	RemoteURL     string         `yaml:"remote_url"`
	RemoteTimeout *time.Duration `yaml:"remote_timeout"`
	Seed          *int64         `yaml:"seed"`

	TopK        *int     `yaml:"top_k"`
	Temperature *float64 `yaml:"temperature"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int     `yaml:"rate_burst"`
}

func configPath() string {
	if p := os.Getenv("NEXTTOKEN_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nexttoken", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// setString assigns v to dst when v is non-empty and none of the named flags
// were set on the command line or through the environment.
func setString(c *cli.Command, dst *string, v string, names ...string) {
	if v == "" || anySet(c, names...) {
		return
	}
	*dst = v
}

func setValue[T any](c *cli.Command, dst *T, v *T, names ...string) {
	if v == nil || anySet(c, names...) {
		return
	}
	*dst = *v
}

func anySet(c *cli.Command, names ...string) bool {
	for _, n := range names {
		if c.IsSet(n) {
			return true
		}
	}
	return false
}

// applyConfig fills the global flag variables from cfg.
func applyConfig(c *cli.Command, cfg Config) {
	setString(c, &provider, cfg.Provider, "provider")
	setString(c, &modelRef, cfg.Model, "model")
	setString(c, &modelsPath, cfg.ModelsDir, "models-path")
	setString(c, &device, cfg.Device, "device")
	setString(c, &remoteURL, cfg.RemoteURL, "remote-url")
	setValue(c, &remoteTimeout, cfg.RemoteTimeout, "remote-timeout")
	setValue(c, &seed, cfg.Seed, "seed")
	setValue(c, &topK, cfg.TopK, "top-k")
	setValue(c, &temperature, cfg.Temperature, "temperature")
	setString(c, &logLevel, cfg.LogLevel, "log-level", "debug")
	setString(c, &logFormat, cfg.LogFormat, "log-format")
}

// applyServeConfig fills the serve command's own flags from cfg.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rps *float64, burst *int) {
	setString(c, addr, cfg.ServerAddress, "addr")
	setValue(c, rps, cfg.RateLimit, "rate-limit")
	setValue(c, burst, cfg.RateBurst, "rate-burst")
}
