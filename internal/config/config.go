// Package config holds the startup configuration of the bridge.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/framebridge/core"
	"gopkg.in/yaml.v3"
)

// Replay pacing modes.
const (
	ReplayRealTime    = "realtime"
	ReplayAccelerated = "accelerated"
)

// Config is read once at startup.
type Config struct {
	// WorldFrame names the root of the reconstructed tree.
	WorldFrame string `yaml:"world_frame"`

	// IgnoreSubmodelsOf is a delimiter-separated list of sub-model instance
	// prefixes whose edges are suppressed.
	IgnoreSubmodelsOf string `yaml:"ignore_submodels_of"`
	IgnoreDelimiter   string `yaml:"ignore_delimiter"`

	// UpdatePeriod is the minimum simulation time between processed
	// snapshots, e.g. "50ms".
	UpdatePeriod time.Duration `yaml:"update_period"`

	// FrameNaming is "tf" or "verbatim".
	FrameNaming string `yaml:"frame_naming"`

	// InstanceSuffixPatterns are stripped from instance names, in order, to
	// recover model types.
	InstanceSuffixPatterns []string `yaml:"instance_suffix_patterns"`

	// ModelPaths are searched for model directories before
	// GAZEBO_MODEL_PATH.
	ModelPaths []string `yaml:"model_paths"`

	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// WatchBuffer is the number of edge batches buffered per watcher.
	WatchBuffer int `yaml:"watch_buffer"`

	Replay ReplayConfig `yaml:"replay"`
}

// ReplayConfig selects an optional JSONL recording to feed the bridge.
type ReplayConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		WorldFrame:             core.DefaultWorldFrame,
		IgnoreDelimiter:        ";",
		UpdatePeriod:           core.DefaultUpdatePeriod,
		FrameNaming:            "tf",
		InstanceSuffixPatterns: append([]string(nil), core.DefaultInstanceSuffixPatterns...),
		GRPCAddr:               ":50061",
		MetricsAddr:            ":9091",
		WatchBuffer:            16,
		Replay:                 ReplayConfig{Mode: ReplayRealTime},
	}
}

// Load returns Default overlaid with the YAML file at path. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from FRAMEBRIDGE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("FRAMEBRIDGE_IGNORE_SUBMODELS_OF"); ok {
		c.IgnoreSubmodelsOf = v
	}
	if v := os.Getenv("FRAMEBRIDGE_UPDATE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FRAMEBRIDGE_UPDATE_PERIOD: %w", err)
		}
		c.UpdatePeriod = d
	}
	if v := os.Getenv("FRAMEBRIDGE_WORLD_FRAME"); v != "" {
		c.WorldFrame = v
	}
	if v := os.Getenv("FRAMEBRIDGE_FRAME_NAMING"); v != "" {
		c.FrameNaming = v
	}
	if v := os.Getenv("FRAMEBRIDGE_MODEL_PATHS"); v != "" {
		c.ModelPaths = append(filepath.SplitList(v), c.ModelPaths...)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.UpdatePeriod < 0 {
		return fmt.Errorf("update_period must not be negative, got %s", c.UpdatePeriod)
	}
	if strings.TrimSpace(c.WorldFrame) == "" {
		return errors.New("world_frame must not be empty")
	}
	if strings.Contains(c.WorldFrame, "::") {
		return fmt.Errorf("world_frame %q must not contain \"::\"", c.WorldFrame)
	}
	if _, err := c.FrameNamer(); err != nil {
		return err
	}
	if _, err := c.TypeConvention(); err != nil {
		return err
	}
	if c.WatchBuffer <= 0 {
		return fmt.Errorf("watch_buffer must be positive, got %d", c.WatchBuffer)
	}
	switch strings.ToLower(strings.TrimSpace(c.Replay.Mode)) {
	case "", ReplayRealTime, ReplayAccelerated:
	default:
		return fmt.Errorf("unknown replay mode %q", c.Replay.Mode)
	}
	return nil
}

// IgnoreList parses IgnoreSubmodelsOf.
func (c Config) IgnoreList() core.IgnoreList {
	return core.ParseIgnoreList(c.IgnoreSubmodelsOf, c.IgnoreDelimiter)
}

// TypeConvention compiles InstanceSuffixPatterns.
func (c Config) TypeConvention() (*core.SuffixConvention, error) {
	return core.NewSuffixConvention(c.InstanceSuffixPatterns...)
}

// FrameNamer returns the configured frame naming convention.
func (c Config) FrameNamer() (core.FrameNamer, error) {
	return core.FrameNamerByName(c.FrameNaming)
}
