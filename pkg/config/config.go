// Copyright 2024-2026 Aiku AI

// Package config loads the relaybridge configuration file.
package config

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/relaybridge/pkg/platform/discord"
	"github.com/aiku/relaybridge/pkg/platform/matrix"
	"github.com/aiku/relaybridge/pkg/platform/mattermost"
	"github.com/aiku/relaybridge/pkg/platform/onebot"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAYBRIDGE_"

// Config is the whole configuration file.
type Config struct {
	relay.Config `yaml:",inline"`

	Bots      BotsConfig        `yaml:"bots"`
	Database  DatabaseConfig    `yaml:"database"`
	Transform TransformConfig   `yaml:"transform"`
	AdminAPI  AdminAPIConfig    `yaml:"admin_api"`
	Logging   zeroconfig.Config `yaml:"logging"`
}

// BotsConfig lists the bot connections per platform.
type BotsConfig struct {
	OneBot     []onebot.Config     `yaml:"onebot"`
	Discord    []discord.Config    `yaml:"discord"`
	Mattermost []mattermost.Config `yaml:"mattermost"`
	Matrix     []matrix.Config     `yaml:"matrix"`
}

// Count returns the number of configured connections.
func (bc BotsConfig) Count() int {
	return len(bc.OneBot) + len(bc.Discord) + len(bc.Mattermost) + len(bc.Matrix)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type TransformConfig struct {
	MaxForwardDepth  int              `yaml:"max_forward_depth"`
	FetchTimeout     int              `yaml:"fetch_timeout"`
	FetchConcurrency int              `yaml:"fetch_concurrency"`
	Labels           transform.Labels `yaml:"labels"`
}

// FetchTimeoutDuration returns FetchTimeout as a duration.
func (tc TransformConfig) FetchTimeoutDuration() time.Duration {
	return time.Duration(tc.FetchTimeout) * time.Second
}

// Options converts the section to engine options.
func (tc TransformConfig) Options() transform.Options {
	return transform.Options{
		MaxForwardDepth: tc.MaxForwardDepth,
		Concurrency:     tc.FetchConcurrency,
		FetchTimeout:    tc.FetchTimeoutDuration(),
		Labels:          tc.Labels,
	}
}

type AdminAPIConfig struct {
	Addr string `yaml:"addr"`
}

// envOverrides are read from RELAYBRIDGE_* variables after the file.
type envOverrides struct {
	LogLevel     string `env:"LOG_LEVEL"`
	DatabasePath string `env:"DATABASE_PATH"`
	AdminAPIAddr string `env:"ADMIN_API_ADDR"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	c.Delay = relay.DefaultDelay
	c.QueueSize = relay.DefaultQueueSize
	c.AuthorTemplate = relay.DefaultAuthorTemplate
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the configuration.
func (c *Config) PostProcess() error {
	if err := c.Config.PostProcess(); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Transform.FetchTimeout < 0 {
		return fmt.Errorf("transform.fetch_timeout must not be negative, got %d", c.Transform.FetchTimeout)
	}
	for name, ec := range c.Configs {
		if !isKnownPlatform(ec.Platform) {
			return fmt.Errorf("endpoint %q: unknown platform %q", name, ec.Platform)
		}
	}
	return nil
}

func isKnownPlatform(name string) bool {
	for _, p := range transform.Platforms {
		if p == name {
			return true
		}
	}
	return false
}

// ApplyEnv overrides file values with RELAYBRIDGE_* environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if o.LogLevel != "" {
		level, err := zerolog.ParseLevel(o.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_LEVEL: %w", EnvPrefix, err)
		}
		c.Logging.MinLevel = &level
	}
	if o.DatabasePath != "" {
		c.Database.Path = o.DatabasePath
	}
	if o.AdminAPIAddr != "" {
		c.AdminAPI.Addr = o.AdminAPIAddr
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Map, "configs")
	helper.Copy(up.List, "rules")
	helper.Copy(up.Int, "delay")
	helper.Copy(up.Int, "queue_size")
	helper.Copy(up.Str, "author_template")

	helper.Copy(up.List, "bots", "onebot")
	helper.Copy(up.List, "bots", "discord")
	helper.Copy(up.List, "bots", "mattermost")
	helper.Copy(up.List, "bots", "matrix")

	helper.Copy(up.Str, "database", "path")

	helper.Copy(up.Int, "transform", "max_forward_depth")
	helper.Copy(up.Int, "transform", "fetch_timeout")
	helper.Copy(up.Int, "transform", "fetch_concurrency")
	for _, label := range []string{"image", "video", "file", "voice", "forward", "sticker", "emoji", "face", "card", "reply"} {
		helper.Copy(up.Str, "transform", "labels", label)
	}

	helper.Copy(up.Str, "admin_api", "addr")
	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user file onto the embedded example. Blocks may only
// name scalar or map keys: the upgrader keeps no key node for list values.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"delay"},
		{"bots"},
		{"database"},
		{"transform"},
		{"admin_api"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadEnvFile loads variables from a dotenv file. Variables already set in
// the process environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads path, upgrades it against the example config and applies
// environment overrides. With save set, the upgraded file is written back.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes an already upgraded config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
