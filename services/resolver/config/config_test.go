// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8888", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "api_endpoints", cfg.Index.Collection)
	assert.Equal(t, 10*time.Second, cfg.Index.QueryTimeout)
	assert.Equal(t, "groq", cfg.Completion.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Completion.Model)
	assert.Equal(t, 30*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestLoadWith_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  backend: qdrant
  qdrant:
    host: qdrant.internal
completion:
  provider: anthropic
  timeout: 5s
extraction:
  default_value: "null"
  field_defaults:
    Date: today
`), 0o600))

	cfg, err := LoadWith(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, "qdrant.internal", cfg.Index.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Index.Qdrant.Port, "unset overlay fields keep their default")
	assert.Equal(t, "anthropic", cfg.Completion.Provider)
	assert.Equal(t, 5*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, "null", cfg.Extraction.DefaultValue)
	assert.Equal(t, map[string]string{"Date": "today"}, cfg.Extraction.FieldDefaults)
	assert.Equal(t, ":8888", cfg.Server.Addr)
}

func TestLoadWith_Env(t *testing.T) {
	cfg, err := LoadWith("", env(map[string]string{
		"EMBEDDING_SERVICE_URL": "http://ollama:11434/api/embed",
		"EMBEDDING_MODEL":       "mxbai-embed-large",
		"GROQ_API_KEY":          "gsk_test",
		"INDEX_QUERY_TIMEOUT":   "3s",
		"QDRANT_PORT":           "7000",
		"LOG_LEVEL":             "debug",
		"CORPUS_PATH":           "  ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://ollama:11434/api/embed", cfg.Embedding.URL)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.Equal(t, "gsk_test", cfg.Completion.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Index.QueryTimeout)
	assert.Equal(t, 7000, cfg.Index.Qdrant.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "", cfg.Corpus.Path, "blank values are ignored")
}

func TestLoadWith_ProviderKeySelection(t *testing.T) {
	lookup := env(map[string]string{
		"COMPLETION_PROVIDER": "anthropic",
		"GROQ_API_KEY":        "gsk_wrong",
		"ANTHROPIC_API_KEY":   "sk-ant-right",
	})
	cfg, err := LoadWith("", lookup)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-right", cfg.Completion.APIKey)

	cfg, err = LoadWith("", env(map[string]string{
		"COMPLETION_API_KEY": "explicit",
		"GROQ_API_KEY":       "gsk_other",
	}))
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Completion.APIKey)
}

func TestLoadWith_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"INDEX_BACKEND": "chroma"}},
		{"unknown provider", map[string]string{"COMPLETION_PROVIDER": "mystery"}},
		{"bad duration", map[string]string{"COMPLETION_TIMEOUT": "soon"}},
		{"bad port", map[string]string{"QDRANT_PORT": "x"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"unknown exporter", map[string]string{"TELEMETRY_EXPORTER": "jaeger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith("", env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestValidate_RemoteBackendNeedsHost(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Index.Backend = "qdrant"
	cfg.Index.Qdrant.Host = ""
	assert.Error(t, cfg.Validate())

	cfg.Index.Qdrant.Host = "q"
	assert.NoError(t, cfg.Validate())
}

func TestLoadWith_MissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RESOLVER_DOTENV_TEST=from-file\n"), 0o600))
	t.Setenv("RESOLVER_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("RESOLVER_DOTENV_TEST"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("RESOLVER_DOTENV_TEST"))
}
