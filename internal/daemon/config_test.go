package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synapseshield/shield/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8000)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Model.Epochs != 50 || cfg.Model.LearningRate != 1e-3 || cfg.Model.Device != "cpu" {
		t.Errorf("Model = %+v, want 50 epochs at 1e-3 on cpu", cfg.Model)
	}
	if cfg.Recommender.Episodes != 200 {
		t.Errorf("Recommender.Episodes = %d, want 200", cfg.Recommender.Episodes)
	}
	if cfg.Stream.ConsumerGroup != "$Default" {
		t.Errorf("Stream.ConsumerGroup = %q, want $Default", cfg.Stream.ConsumerGroup)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestShieldHome_Env(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHIELD_HOME", dir)
	if ShieldHome() != dir {
		t.Errorf("ShieldHome() = %q, want %q", ShieldHome(), dir)
	}
	if ConfigPath() != filepath.Join(dir, "config.toml") {
		t.Errorf("ConfigPath() = %q", ConfigPath())
	}
	if got := DefaultConfig().Storage.Dir; got != filepath.Join(dir, "artifacts") {
		t.Errorf("Storage.Dir = %q", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfigFile(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfigFile(missing) error: %v", err)
	}
	if cfg.API.Port != 8000 {
		t.Errorf("missing file should give defaults, port = %d", cfg.API.Port)
	}

	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[api]
port = 9100

[storage]
backend = "s3"
compress = true

[storage.s3]
bucket = "shield-models"
region = "eu-west-1"

[model]
epochs = 80
threshold = 0.05

[stream]
enabled = true
url = "wss://events.example/telemetry"
`), 0o644)

	cfg, err = LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.API.Port != 9100 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API = %+v, want port override over default host", cfg.API)
	}
	if cfg.Storage.Backend != BackendS3 || !cfg.Storage.Compress || cfg.Storage.S3.Bucket != "shield-models" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Model.Epochs != 80 || cfg.Model.Threshold != 0.05 || cfg.Model.LearningRate != 1e-3 {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	os.WriteFile(path, []byte("[api\nport = "), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("LoadConfigFile(broken) should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ADT_URL":                     "https://twins.example.net",
		"ADT_TOKEN":                   "secret",
		"EVENT_STREAM_URL":            "wss://events.example",
		"EVENT_STREAM_CONSUMER_GROUP": "shield",
		"MODEL_DEVICE":                "cuda",
	}
	cfg := DefaultConfig()
	applyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Twin.URL != "https://twins.example.net" || cfg.Twin.Token != "secret" {
		t.Errorf("Twin = %+v", cfg.Twin)
	}
	if cfg.Stream.URL != "wss://events.example" || cfg.Stream.ConsumerGroup != "shield" {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if cfg.Model.Device != "cuda" {
		t.Errorf("Model.Device = %q", cfg.Model.Device)
	}
	if err := cfg.Validate(); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("Validate() with cuda = %v, want ErrConfig", err)
	}

	cfg = DefaultConfig()
	applyEnv(&cfg, func(string) string { return "" })
	if cfg.Stream.ConsumerGroup != "$Default" {
		t.Error("empty env should leave defaults alone")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "unknown storage.backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = BackendS3 }, "storage.s3.bucket"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = BackendRedis; c.Storage.Redis.Addr = "" }, "storage.redis.addr"},
		{"stream without url", func(c *Config) { c.Stream.Enabled = true }, "stream.url"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"negative threshold", func(c *Config) { c.Model.Threshold = -1 }, "model.threshold"},
		{"bad duration", func(c *Config) { c.Twin.Timeout = "soon" }, "twin.timeout"},
		{"negative breaker failures", func(c *Config) { c.Twin.BreakerFailures = -1 }, "twin.breaker_failures"},
		{"bad breaker reset", func(c *Config) { c.Twin.BreakerReset = "later" }, "twin.breaker_reset"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("SHIELD_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Model.Epochs = 120
	cfg.Storage.Backend = BackendRedis
	cfg.Storage.Redis.Addr = "redis:6379"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.Model.Epochs != 120 || got.Storage.Backend != BackendRedis || got.Storage.Redis.Addr != "redis:6379" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestParseDuration(t *testing.T) {
	if parseDuration("", 5) != 5 || parseDuration("nope", 5) != 5 {
		t.Error("fallback not used")
	}
	if parseDuration("2s", 5).Seconds() != 2 {
		t.Error("2s not parsed")
	}
}
