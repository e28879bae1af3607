// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Ranking model fitting
	Fit FitConfig `yaml:"fit"`

	// Recursive partitioning
	Tree TreeConfig `yaml:"tree"`

	// Out-of-sample evaluation
	Eval EvalConfig `yaml:"eval"`

	// Tree snapshot storage
	Store StoreConfig `yaml:"store"`

	// Event bus
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// FitConfig holds Plackett-Luce fitting settings.
type FitConfig struct {
	MaxIter int     `envconfig:"RANKTREE_FIT_MAX_ITER" yaml:"max_iter"`
	Tol     float64 `envconfig:"RANKTREE_FIT_TOL" yaml:"tol"`
	NPseudo float64 `envconfig:"RANKTREE_FIT_NPSEUDO" yaml:"npseudo"`
}

// TreeConfig holds partitioning settings.
type TreeConfig struct {
	Alpha         float64 `envconfig:"RANKTREE_ALPHA" yaml:"alpha"`
	MinSize       int     `envconfig:"RANKTREE_MIN_SIZE" yaml:"min_size"` // groups per child
	MaxDepth      int     `envconfig:"RANKTREE_MAX_DEPTH" yaml:"max_depth"`
	MaxCandidates int     `envconfig:"RANKTREE_MAX_CANDIDATES" yaml:"max_candidates"` // numeric cutpoints per covariate
	Bonferroni    bool    `envconfig:"RANKTREE_BONFERRONI" yaml:"bonferroni"`
	Workers       int     `envconfig:"RANKTREE_TREE_WORKERS" yaml:"workers"`
}

// EvalConfig holds out-of-sample scoring settings.
type EvalConfig struct {
	Workers int `envconfig:"RANKTREE_EVAL_WORKERS" yaml:"workers"`
}

// StoreConfig holds snapshot storage settings.
type StoreConfig struct {
	Type     string `envconfig:"RANKTREE_STORE_TYPE" yaml:"type"`
	Path     string `envconfig:"RANKTREE_STORE_PATH" yaml:"path"`
	RedisURL string `envconfig:"RANKTREE_REDIS_URL" yaml:"redis_url"`
	Prefix   string `envconfig:"RANKTREE_STORE_PREFIX" yaml:"prefix"`
	TTL      int    `envconfig:"RANKTREE_STORE_TTL" yaml:"ttl"` // seconds, 0 = no expiry
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type          string `envconfig:"RANKTREE_BUS_TYPE" yaml:"type"`
	KafkaBrokers  string `envconfig:"RANKTREE_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaClientID string `envconfig:"RANKTREE_KAFKA_CLIENT_ID" yaml:"kafka_client_id"`
	KafkaGroup    string `envconfig:"RANKTREE_KAFKA_GROUP" yaml:"kafka_group"`
	Journal       string `envconfig:"RANKTREE_BUS_JOURNAL" yaml:"journal"` // JSON lines event log, empty = off
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RANKTREE_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RANKTREE_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Fit = FitConfig{
		MaxIter: 500,
		Tol:     1e-7,
		NPseudo: 0.5,
	}

	cfg.Tree = TreeConfig{
		Alpha:         0.05,
		MinSize:       10,
		MaxDepth:      6,
		MaxCandidates: 20,
		Bonferroni:    true,
		Workers:       4,
	}

	cfg.Eval = EvalConfig{
		Workers: 4,
	}

	cfg.Store = StoreConfig{
		Type:     "file",
		Path:     "./trees",
		RedisURL: "redis://localhost:6379",
		Prefix:   "ranktree:tree:",
	}

	cfg.Bus = BusConfig{
		Type:          "memory",
		KafkaClientID: "ranktree",
		KafkaGroup:    "ranktree",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Fit validation
	if c.Fit.MaxIter < 0 {
		errs = append(errs, "fit.max_iter must not be negative")
	}

	if c.Fit.Tol <= 0 {
		errs = append(errs, "fit.tol must be positive")
	}

	if c.Fit.NPseudo < 0 {
		errs = append(errs, "fit.npseudo must not be negative")
	}

	// Tree validation
	if c.Tree.Alpha <= 0 || c.Tree.Alpha >= 1 {
		errs = append(errs, "tree.alpha must be between 0 and 1")
	}

	if c.Tree.MinSize < 1 {
		errs = append(errs, "tree.min_size must be positive")
	}

	if c.Tree.MaxDepth < 1 {
		errs = append(errs, "tree.max_depth must be positive")
	}

	if c.Tree.MaxCandidates < 1 {
		errs = append(errs, "tree.max_candidates must be positive")
	}

	if c.Tree.Workers < 1 || c.Eval.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	// Store validation
	validStoreTypes := map[string]bool{"memory": true, "file": true, "redis": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory, file, or redis)", c.Store.Type))
	}

	if c.Store.Type == "file" && c.Store.Path == "" {
		errs = append(errs, "store.path is required for file storage")
	}

	if c.Store.TTL < 0 {
		errs = append(errs, "store.ttl must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "bus.kafka_brokers is required for kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
