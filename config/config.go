// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Config is the full engine configuration.
type Config struct {
	// Store holds the relational database settings.
	Store StoreConfig `yaml:"store"`

	// Vectorizer selects and configures the embedding backend.
	Vectorizer VectorizerConfig `yaml:"vectorizer"`

	// Index tunes the ANN graph.
	Index IndexConfig `yaml:"index"`

	// Snapshots configures index snapshot storage.
	Snapshots SnapshotConfig `yaml:"snapshots"`

	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Backfill tunes the embedding pipeline.
	Backfill BackfillConfig `yaml:"backfill"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// VectorizerConfig selects the embedding backend.
type VectorizerConfig struct {
	// Backend is minilm, hashing, or openai.
	Backend string `yaml:"backend"`

	// ModelPath is the local ONNX model directory (minilm).
	ModelPath string `yaml:"model_path"`

	// OnnxLibraryPath points at the onnxruntime shared library (minilm on
	// CUDA).
	OnnxLibraryPath string `yaml:"onnx_library_path"`

	// OpenAIAPIKey authenticates the hosted backend. Prefer the
	// OPENAI_API_KEY environment variable over the file.
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// IndexConfig tunes the ANN graph.
type IndexConfig struct {
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFSearch       int `yaml:"ef_search"`
}

// SnapshotConfig configures snapshot storage. Backend is local or minio.
type SnapshotConfig struct {
	Backend string `yaml:"backend"`

	// Dir is the snapshot directory (local backend).
	Dir string `yaml:"dir"`

	// Endpoint, Bucket, AccessKey, SecretKey configure the minio backend.
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BackfillConfig tunes the pipeline.
type BackfillConfig struct {
	FetchSize       int `yaml:"fetch_size"`
	EncodeBatchSize int `yaml:"encode_batch_size"`

	// RatePerSecond throttles batches; zero disables throttling.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:      StoreConfig{Path: "melodex.db"},
		Vectorizer: VectorizerConfig{Backend: "hashing"},
		Index: IndexConfig{
			M:              16,
			EFConstruction: 64,
			EFSearch:       100,
		},
		Snapshots: SnapshotConfig{
			Backend: "local",
			Dir:     "snapshots",
		},
		Server: ServerConfig{Addr: ":8080"},
		Backfill: BackfillConfig{
			FetchSize:       200,
			EncodeBatchSize: 32,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// applyEnv overrides file values from MELODEX_* variables, plus the
// conventional OPENAI_API_KEY.
func (c *Config) applyEnv() {
	setString(&c.Store.Path, "MELODEX_DB_PATH")
	setString(&c.Vectorizer.Backend, "MELODEX_VECTORIZER_BACKEND")
	setString(&c.Vectorizer.ModelPath, "MELODEX_MODEL_PATH")
	setString(&c.Vectorizer.OnnxLibraryPath, "MELODEX_ONNX_LIBRARY_PATH")
	setString(&c.Vectorizer.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Snapshots.Dir, "MELODEX_SNAPSHOT_DIR")
	setString(&c.Snapshots.Endpoint, "MELODEX_MINIO_ENDPOINT")
	setString(&c.Snapshots.AccessKey, "MELODEX_MINIO_ACCESS_KEY")
	setString(&c.Snapshots.SecretKey, "MELODEX_MINIO_SECRET_KEY")
	setString(&c.Server.Addr, "MELODEX_ADDR")
	setString(&c.LogLevel, "MELODEX_LOG_LEVEL")
	setString(&c.LogFormat, "MELODEX_LOG_FORMAT")
	setInt(&c.Index.EFSearch, "MELODEX_EF_SEARCH")
}

func (c *Config) validate() error {
	switch c.Vectorizer.Backend {
	case "minilm", "hashing", "openai":
	default:
		return fmt.Errorf("unknown vectorizer backend %q", c.Vectorizer.Backend)
	}

	switch c.Snapshots.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshots.Backend)
	}

	if c.Index.M <= 0 || c.Index.EFConstruction <= 0 || c.Index.EFSearch <= 0 {
		return fmt.Errorf("index parameters must be positive")
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
