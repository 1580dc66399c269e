// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the resolver configuration.
//
// Values come from three layers, later layers winning: the embedded
// defaults.yaml, an optional YAML file, and environment variables (after an
// optional .env file has been loaded into the environment).
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// Types
// =============================================================================

// Config is the complete resolver configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Insights   InsightsConfig   `yaml:"insights"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr             string        `yaml:"addr" validate:"required"`
	ReadTimeout      time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	WarmupRetryAfter time.Duration `yaml:"warmup_retry_after" validate:"gte=0"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes" validate:"gt=0"`
}

// CorpusConfig locates the endpoint corpus.
type CorpusConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend            string         `yaml:"backend" validate:"required,oneof=memory weaviate qdrant"`
	Collection         string         `yaml:"collection" validate:"required"`
	DataDir            string         `yaml:"data_dir"`
	QueryTimeout       time.Duration  `yaml:"query_timeout" validate:"gt=0"`
	EmbedConcurrency   int            `yaml:"embed_concurrency" validate:"gte=1,lte=64"`
	EmbedRatePerSecond float64        `yaml:"embed_rate_per_second" validate:"gte=0"`
	Weaviate           WeaviateConfig `yaml:"weaviate"`
	Qdrant             QdrantConfig   `yaml:"qdrant"`
}

// WeaviateConfig locates weaviate.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	APIKey string `yaml:"api_key"`
}

// QdrantConfig locates qdrant.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port" validate:"gte=0,lte=65535"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// EmbeddingConfig selects the embedding service.
type EmbeddingConfig struct {
	Provider string        `yaml:"provider" validate:"required,oneof=ollama openai hash"`
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// CompletionConfig selects the completion backend.
type CompletionConfig struct {
	Provider string        `yaml:"provider" validate:"required,oneof=groq openai anthropic gemini ollama"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ExtractionConfig tunes parameter extraction.
type ExtractionConfig struct {
	DefaultValue  string            `yaml:"default_value"`
	MaxTokens     int               `yaml:"max_tokens" validate:"gt=0"`
	FieldDefaults map[string]string `yaml:"field_defaults"`
}

// InsightsConfig tunes insight summaries.
type InsightsConfig struct {
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=auto json console"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" validate:"required"`
	Exporter     string `yaml:"exporter" validate:"required,oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// =============================================================================
// Loading
// =============================================================================

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the embedded defaults without file or environment overrides.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration from the embedded defaults, the optional file
// at path, and the process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: Unreadable file, malformed YAML, bad environment value or
//     failed validation.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if lookup != nil {
		if err := applyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

type envBinding struct {
	key string
	set func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

// envBindings lists the recognised variables. Order matters only for keys
// bound to the same field: later entries win.
var envBindings = []envBinding{
	{"RESOLVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"RESOLVER_WRITE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.WriteTimeout })},
	{"CORPUS_PATH", str(func(c *Config) *string { return &c.Corpus.Path })},

	{"INDEX_BACKEND", str(func(c *Config) *string { return &c.Index.Backend })},
	{"INDEX_COLLECTION", str(func(c *Config) *string { return &c.Index.Collection })},
	{"INDEX_DATA_DIR", str(func(c *Config) *string { return &c.Index.DataDir })},
	{"INDEX_QUERY_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Index.QueryTimeout })},
	{"WEAVIATE_HOST", str(func(c *Config) *string { return &c.Index.Weaviate.Host })},
	{"WEAVIATE_SCHEME", str(func(c *Config) *string { return &c.Index.Weaviate.Scheme })},
	{"WEAVIATE_API_KEY", str(func(c *Config) *string { return &c.Index.Weaviate.APIKey })},
	{"QDRANT_HOST", str(func(c *Config) *string { return &c.Index.Qdrant.Host })},
	{"QDRANT_PORT", integer(func(c *Config) *int { return &c.Index.Qdrant.Port })},
	{"QDRANT_API_KEY", str(func(c *Config) *string { return &c.Index.Qdrant.APIKey })},
	{"QDRANT_USE_TLS", boolean(func(c *Config) *bool { return &c.Index.Qdrant.UseTLS })},

	{"EMBEDDING_PROVIDER", str(func(c *Config) *string { return &c.Embedding.Provider })},
	{"EMBEDDING_SERVICE_URL", str(func(c *Config) *string { return &c.Embedding.URL })},
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_API_KEY", str(func(c *Config) *string { return &c.Embedding.APIKey })},

	{"COMPLETION_PROVIDER", str(func(c *Config) *string { return &c.Completion.Provider })},
	{"COMPLETION_MODEL", str(func(c *Config) *string { return &c.Completion.Model })},
	{"COMPLETION_BASE_URL", str(func(c *Config) *string { return &c.Completion.BaseURL })},
	{"COMPLETION_API_KEY", str(func(c *Config) *string { return &c.Completion.APIKey })},
	{"COMPLETION_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Completion.Timeout })},

	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},

	{"OTEL_SERVICE_NAME", str(func(c *Config) *string { return &c.Telemetry.ServiceName })},
	{"TELEMETRY_EXPORTER", str(func(c *Config) *string { return &c.Telemetry.Exporter })},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
}

// providerKeyEnv maps a completion provider to the variable holding its key.
var providerKeyEnv = map[string]string{
	"groq":      "GROQ_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s=%q: %w", b.key, v, err)
		}
	}

	// Provider keys fill api_key only when nothing more specific set it.
	if cfg.Completion.APIKey == "" {
		if name, ok := providerKeyEnv[strings.ToLower(cfg.Completion.Provider)]; ok {
			if v, ok := lookup(name); ok {
				cfg.Completion.APIKey = strings.TrimSpace(v)
			}
		}
	}
	if cfg.Embedding.APIKey == "" && strings.EqualFold(cfg.Embedding.Provider, "openai") {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			cfg.Embedding.APIKey = strings.TrimSpace(v)
		}
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}

	switch c.Index.Backend {
	case "weaviate":
		if c.Index.Weaviate.Host == "" {
			return errors.New("config: index.weaviate.host is required for the weaviate backend")
		}
	case "qdrant":
		if c.Index.Qdrant.Host == "" {
			return errors.New("config: index.qdrant.host is required for the qdrant backend")
		}
	}
	if c.Embedding.Provider == "ollama" && c.Embedding.URL == "" {
		return errors.New("config: embedding.url is required for the ollama provider")
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return errors.New("config: telemetry.otlp_endpoint is required for the otlp exporter")
	}
	return nil
}
