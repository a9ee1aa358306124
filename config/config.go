// Package config loads conductor configuration from a YAML file with
// environment-variable overrides. Precedence: defaults, then file, then
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipeworks-ai/conductor/artifact"
	"github.com/pipeworks-ai/conductor/engine"
	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/store"
)

// Config is the complete conductor configuration.
type Config struct {
	Log          LogConfig         `yaml:"log"`
	Store        StoreConfig       `yaml:"store"`
	Redis        store.RedisConfig `yaml:"redis"`
	Mongo        store.MongoConfig `yaml:"mongo"`
	Orchestrator engine.Config     `yaml:"orchestrator"`
	Retry        RetryConfig       `yaml:"retry"`
	Generation   GenerationConfig  `yaml:"generation"`
	Checkpoint   CheckpointConfig  `yaml:"checkpoint"`
	Telemetry    TelemetryConfig   `yaml:"telemetry"`
	GitHub       GitHubConfig      `yaml:"github"`
	Repo         artifact.RepoRef  `yaml:"repo"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// StoreConfig selects the instance store backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "sqlite", "mongo".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// RetryConfig configures the error recovery manager.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// GenerationConfig configures the text-generation collaborator.
type GenerationConfig struct {
	OpenAI            generation.OpenAIConfig `yaml:"openai"`
	RequestsPerSecond float64                 `yaml:"requests_per_second"`
	Burst             int                     `yaml:"burst"`
}

// CheckpointConfig configures the checkpoint manager.
type CheckpointConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	SummaryLimit int           `yaml:"summary_limit"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// GitHubConfig configures the version-control collaborator.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Log:          LogConfig{Level: "info", Format: "json"},
		Store:        StoreConfig{Backend: "memory", SQLitePath: "conductor.db"},
		Redis:        store.RedisConfig{Addr: "localhost:6379", PoolSize: 10},
		Mongo:        store.MongoConfig{URI: "mongodb://localhost:27017", Database: "conductor"},
		Orchestrator: engine.DefaultConfig(),
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		Generation: GenerationConfig{
			OpenAI:            generation.OpenAIConfig{BaseURL: "https://api.openai.com", Model: "gpt-4o", Timeout: 60 * time.Second},
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Checkpoint: CheckpointConfig{TTL: 7 * 24 * time.Hour, SummaryLimit: 10},
		Telemetry:  TelemetryConfig{ServiceName: "conductor", OTLPEndpoint: "localhost:4317"},
		Repo:       artifact.RepoRef{Branch: "main"},
	}
}

// Load reads configuration: defaults, then the YAML file at path (when
// not empty), then CONDUCTOR_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides selected settings from the environment. Only the
// values an operator commonly flips at deploy time are exposed.
func applyEnv(cfg *Config) {
	setString(&cfg.Log.Level, "CONDUCTOR_LOG_LEVEL")
	setString(&cfg.Log.Format, "CONDUCTOR_LOG_FORMAT")
	setString(&cfg.Store.Backend, "CONDUCTOR_STORE_BACKEND")
	setString(&cfg.Store.SQLitePath, "CONDUCTOR_STORE_SQLITE_PATH")
	setString(&cfg.Redis.Addr, "CONDUCTOR_REDIS_ADDR")
	setString(&cfg.Redis.Password, "CONDUCTOR_REDIS_PASSWORD")
	setString(&cfg.Mongo.URI, "CONDUCTOR_MONGO_URI")
	setString(&cfg.Mongo.Database, "CONDUCTOR_MONGO_DATABASE")
	setString(&cfg.Telemetry.ServiceName, "CONDUCTOR_TELEMETRY_SERVICE_NAME")
	setString(&cfg.Telemetry.OTLPEndpoint, "CONDUCTOR_TELEMETRY_OTLP_ENDPOINT")
	setString(&cfg.Generation.OpenAI.APIKey, "CONDUCTOR_OPENAI_API_KEY")
	setString(&cfg.Generation.OpenAI.BaseURL, "CONDUCTOR_OPENAI_BASE_URL")
	setString(&cfg.Generation.OpenAI.Model, "CONDUCTOR_OPENAI_MODEL")
	setString(&cfg.GitHub.Token, "CONDUCTOR_GITHUB_TOKEN")
	setString(&cfg.Repo.Owner, "CONDUCTOR_REPO_OWNER")
	setString(&cfg.Repo.Repo, "CONDUCTOR_REPO_NAME")
	setString(&cfg.Repo.Branch, "CONDUCTOR_REPO_BRANCH")
	setBool(&cfg.Telemetry.Enabled, "CONDUCTOR_TELEMETRY_ENABLED")
	setBool(&cfg.Orchestrator.AutoCheckpoint, "CONDUCTOR_AUTO_CHECKPOINT")
	setInt64(&cfg.Orchestrator.MaxConcurrent, "CONDUCTOR_MAX_CONCURRENT")
	setInt(&cfg.Retry.MaxRetries, "CONDUCTOR_RETRY_MAX_RETRIES")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}
