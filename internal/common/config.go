// Package common provides shared utilities for Transcriptor: logging,
// configuration, versioning, and the structured event sink.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL       string `toml:"-"`
	TimeoutMS int    `toml:"db_timeout_ms"`
}

// ObjectStoreConfig configures the S3-compatible object store adapter.
type ObjectStoreConfig struct {
	Endpoint        string `toml:"-"`
	Region          string `toml:"-"`
	Bucket          string `toml:"-"`
	AccessKeyID     string `toml:"-"`
	SecretAccessKey string `toml:"-"`
	TimeoutMS       int    `toml:"object_store_timeout_ms"`
}

// LLMConfig configures the LLM adapter.
type LLMConfig struct {
	Provider  string `toml:"provider"` // openai|fake
	Model     string `toml:"model"`
	APIKey    string `toml:"-"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// WorkerConfig configures the worker pool runtime.
type WorkerConfig struct {
	ID           string `toml:"id"`
	Concurrency  int    `toml:"concurrency"`
	PollMS       int    `toml:"poll_ms"`
	LLMTimeoutMS int    `toml:"llm_timeout_ms"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level    string `toml:"level"`
	FilePath string `toml:"file_path"`
}

// Config is the root application configuration. Non-secret defaults come
// from an optional TOML file; everything the environment-variable surface
// in SPEC_FULL.md §10 marks required is only ever read from the
// environment, never from the file, so secrets never land on disk as
// committed config.
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"-"`
	ObjectStore ObjectStoreConfig `toml:"-"`
	LLM         LLMConfig         `toml:"llm"`
	Worker      WorkerConfig      `toml:"worker"`
	Logging     LoggingConfig     `toml:"logging"`
}

// NewDefaultConfig returns a Config populated with the non-secret defaults
// named throughout SPEC_FULL.md (§4.3, §4.8, §6).
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-5-mini",
			TimeoutMS: 60000,
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			PollMS:       1000,
			LLMTimeoutMS: 60000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads non-secret defaults from the first existing TOML file in
// paths (later files in the list are ignored once one is found), then
// applies environment overrides, then validates that every required key is
// present. A missing required key never short-circuits validation of the
// rest: the returned error lists every missing key so an operator fixes
// them in one pass instead of one restart per key.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", p, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", p, err)
		}
		break
	}

	applyEnvOverrides(cfg)
	deriveTimeouts(cfg)

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// minObjectStoreTimeoutMS is the floor spec.md §5 sets for every
// object-store request timeout: "an object-store request timeout (≥ 30s)".
const minObjectStoreTimeoutMS = 30000

// dbTimeoutMarginMS is the floor spec.md §5 adds on top of the LLM
// timeout for the DB statement timeout: "a DB statement timeout (≥ LLM
// timeout + 5s)".
const dbTimeoutMarginMS = 5000

// deriveTimeouts enforces the per-call timeout floors spec.md §5
// requires for every database and object-store call: a DB timeout of at
// least the worker's LLM timeout plus 5s, and an object-store timeout of
// at least 30s. An operator-supplied value above the floor (via TOML or
// DB_TIMEOUT_MS/OBJECT_STORE_TIMEOUT_MS) is left untouched; only a
// missing or too-low value is raised to the floor.
func deriveTimeouts(cfg *Config) {
	minDB := cfg.Worker.LLMTimeoutMS + dbTimeoutMarginMS
	if cfg.Database.TimeoutMS < minDB {
		cfg.Database.TimeoutMS = minDB
	}
	if cfg.ObjectStore.TimeoutMS < minObjectStoreTimeoutMS {
		cfg.ObjectStore.TimeoutMS = minObjectStoreTimeoutMS
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.ObjectStore.Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		cfg.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.TimeoutMS = n
		}
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Worker.ID = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORKER_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.PollMS = n
		}
	}
	if v := os.Getenv("WORKER_LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.LLMTimeoutMS = n
		}
	}
	if v := os.Getenv("DB_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.TimeoutMS = n
		}
	}
	if v := os.Getenv("OBJECT_STORE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ObjectStore.TimeoutMS = n
		}
	}
	if cfg.Worker.ID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.Worker.ID = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
}

// validateRequired enforces the required-environment-variable surface in
// SPEC_FULL.md §10 / spec.md §6: database, object store credentials, and
// (unless the LLM provider is the test-only fake) an LLM API key.
func validateRequired(cfg *Config) error {
	var missing []string

	if cfg.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.ObjectStore.Endpoint == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if cfg.ObjectStore.Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.ObjectStore.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.ObjectStore.AccessKeyID == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if cfg.ObjectStore.SecretAccessKey == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	if cfg.LLM.Provider != "fake" && cfg.LLM.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction reports whether the configured environment is production.
// Used to enforce the provider=fake-forbidden-in-production guardrail
// from spec.md §4.3.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
