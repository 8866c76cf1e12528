// Package daemon manages the SynapseShield service lifecycle and
// configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/synapseshield/shield/internal/app/trainer"
	"github.com/synapseshield/shield/internal/domain"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all daemon configuration.
type Config struct {
	Node        NodeConfig        `toml:"node"`
	API         APIConfig         `toml:"api"`
	Storage     StorageConfig     `toml:"storage"`
	Model       ModelConfig       `toml:"model"`
	Recommender RecommenderConfig `toml:"recommender"`
	Twin        TwinConfig        `toml:"twin"`
	Stream      StreamConfig      `toml:"stream"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// NodeConfig identifies this instance. An empty ID is generated once and
// kept in the state database.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	CORS bool   `toml:"cors"`
}

// StorageConfig selects where the scaler and model artifacts live.
type StorageConfig struct {
	Backend  string      `toml:"backend"`
	Dir      string      `toml:"dir"`
	Compress bool        `toml:"compress"`
	S3       S3Config    `toml:"s3"`
	Redis    RedisConfig `toml:"redis"`
}

// S3Config configures the S3 artifact backend.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Prefix          string `toml:"prefix"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// RedisConfig configures the Redis artifact backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// ModelConfig controls training and scoring.
type ModelConfig struct {
	Epochs       int     `toml:"epochs"`
	LearningRate float64 `toml:"learning_rate"`
	BatchSize    int     `toml:"batch_size"` // 0 trains full batch
	Seed         int64   `toml:"seed"`
	Device       string  `toml:"device"`
	StrictScaler bool    `toml:"strict_scaler"`
	Threshold    float64 `toml:"threshold"` // 0 derives it per batch
}

// RecommenderConfig controls the Q-table recommender.
type RecommenderConfig struct {
	Episodes int `toml:"episodes"`
}

// TwinConfig points at the digital twin service.
type TwinConfig struct {
	URL        string `toml:"url"`
	Token      string `toml:"token"`
	APIVersion string `toml:"api_version"`
	Timeout    string `toml:"timeout"`
	// Consecutive failed writes before twin updates are paused, and for how
	// long.
	BreakerFailures int    `toml:"breaker_failures"`
	BreakerReset    string `toml:"breaker_reset"`
}

// StreamConfig controls the telemetry event stream subscriber.
type StreamConfig struct {
	Enabled       bool   `toml:"enabled"` // start the listener with serve
	URL           string `toml:"url"`
	ConsumerGroup string `toml:"consumer_group"`
	Token         string `toml:"token"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Format string `toml:"format"`
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus"`
	HealthInterval string `toml:"health_interval"`
}

// DefaultConfig returns a configuration that runs locally with file storage.
func DefaultConfig() Config {
	homeDir := shieldHome()
	opts := trainer.DefaultOptions()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8000,
			CORS: true,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     filepath.Join(homeDir, "artifacts"),
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Model: ModelConfig{
			Epochs:       opts.Epochs,
			LearningRate: opts.LearningRate,
			Seed:         opts.Seed,
			Device:       opts.Device,
		},
		Recommender: RecommenderConfig{Episodes: 200},
		Twin:        TwinConfig{Timeout: "15s", BreakerFailures: 5, BreakerReset: "30s"},
		Stream:      StreamConfig{ConsumerGroup: "$Default"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "60s",
		},
	}
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(shieldHome(), "config.toml")
}

// LoadConfig reads config.toml from the home directory, falling back to
// defaults, then applies environment overrides.
func LoadConfig() (Config, error) {
	cfg, err := LoadConfigFile(ConfigPath())
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// LoadConfigFile reads a config file over the defaults. A missing file is
// not an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the environment variables the service has always
// honoured.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Twin.URL, "ADT_URL")
	set(&cfg.Twin.Token, "ADT_TOKEN")
	set(&cfg.Stream.URL, "EVENT_STREAM_URL")
	set(&cfg.Stream.ConsumerGroup, "EVENT_STREAM_CONSUMER_GROUP")
	set(&cfg.Model.Device, "MODEL_DEVICE")
}

// Validate reports every invalid setting, wrapped in domain.ErrConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		bad("api.port %d out of range", c.API.Port)
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			bad("storage.s3.bucket is required for the s3 backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			bad("storage.redis.addr is required for the redis backend")
		}
	default:
		bad("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Model.Epochs < 0 {
		bad("model.epochs must not be negative")
	}
	if c.Model.LearningRate < 0 {
		bad("model.learning_rate must not be negative")
	}
	if c.Model.BatchSize < 0 {
		bad("model.batch_size must not be negative")
	}
	if c.Model.Threshold < 0 {
		bad("model.threshold must not be negative")
	}
	if err := trainer.CheckDevice(c.Model.Device); err != nil {
		bad("model.device: %v", err)
	}
	if c.Recommender.Episodes < 0 {
		bad("recommender.episodes must not be negative")
	}

	if c.Twin.BreakerFailures < 0 {
		bad("twin.breaker_failures must not be negative")
	}
	if c.Stream.Enabled && c.Stream.URL == "" {
		bad("stream.enabled requires stream.url (or EVENT_STREAM_URL)")
	}
	for name, v := range map[string]string{
		"twin.timeout":              c.Twin.Timeout,
		"twin.breaker_reset":        c.Twin.BreakerReset,
		"telemetry.health_interval": c.Telemetry.HealthInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			bad("%s: %v", name, err)
		}
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "console" && f != "json" {
		bad("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfig, errors.Join(errs...))
}

// SaveConfig writes the config to config.toml in the home directory.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// shieldHome returns the SynapseShield data directory.
func shieldHome() string {
	if env := os.Getenv("SHIELD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shield")
}

// ShieldHome is exported for use by other packages.
func ShieldHome() string {
	return shieldHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
