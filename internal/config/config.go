// Package config loads service settings from defaults, an optional YAML file
// and the environment. Binaries apply command-line flags last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreBigQuery = "bigquery"
)

// Config holds the settings shared by the binaries.
type Config struct {
	Port  string `yaml:"port"`
	Store string `yaml:"store"`

	GCPProject string `yaml:"gcp_project"`
	BQDataset  string `yaml:"bq_dataset"`
	SQLitePath string `yaml:"sqlite_path"`
	// GCSBucket enables GCS chunk storage and the CLI upload command.
	GCSBucket string `yaml:"gcs_bucket"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// GeminiFallback lets the PDF parser ask Gemini when no rows were recognised.
	GeminiFallback bool   `yaml:"gemini_fallback"`
	GeminiModel    string `yaml:"gemini_model"`

	// HintsFile replaces the built-in account detection keywords.
	HintsFile string `yaml:"hints_file"`

	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
	Workers        int     `yaml:"workers"`
	QueueSize      int     `yaml:"queue_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:           "8080",
		Store:          StoreMemory,
		BQDataset:      "finance",
		SQLitePath:     "finance-importer.db",
		LogLevel:       "info",
		LogFormat:      "console",
		GeminiModel:    "gemini-2.5-flash",
		MaxUploadBytes: 50 << 20,
		RateLimit:      5,
		RateBurst:      20,
		Workers:        4,
		QueueSize:      100,
	}
}

// Load returns defaults overlaid with the YAML file at path, when path is
// not empty, and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("STORE", &c.Store)
	str("GCP_PROJECT", &c.GCPProject)
	str("BQ_DATASET", &c.BQDataset)
	str("SQLITE_PATH", &c.SQLitePath)
	str("GCS_BUCKET", &c.GCSBucket)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("GEMINI_MODEL", &c.GeminiModel)
	str("HINTS_FILE", &c.HintsFile)

	if v, ok := lookup("GEMINI_FALLBACK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GEMINI_FALLBACK: %w", err)
		}
		c.GeminiFallback = b
	}
	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// Validate reports settings the binaries cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
		}
	case StoreBigQuery:
		if c.BQDataset == "" {
			errs = append(errs, errors.New("bq_dataset is required for the bigquery store"))
		}
		if c.GCPProject == "" {
			errs = append(errs, errors.New("gcp_project is required for the bigquery store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreMemory, StoreSQLite, StoreBigQuery))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate_burst must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}
	return errors.Join(errs...)
}
