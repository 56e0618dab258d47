package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `tenant: state_of_the_union
sources:
  - https://example.com/a
  - https://example.com/b
corpus:
  path: /tmp/ragd/corpus.txt
  max_age: 24h
chunking:
  max_size: 200
  overlap: 20
retrieval:
  top_k: 3
embeddings:
  provider: tei
  base_url: http://tei:8080
  dimension: 384
generation:
  provider: openai
  api_key: sk-test-key
  timeout: 10s
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
logging:
  level: debug
  format: console
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	cfg, err := LoadWithFile(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, "state_of_the_union", cfg.Tenant)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, cfg.Sources)
	assert.Equal(t, "/tmp/ragd/corpus.txt", cfg.Corpus.Path)
	assert.Equal(t, 24*time.Hour, cfg.Corpus.MaxAge)
	assert.Equal(t, 200, cfg.Chunking.MaxSize)
	assert.Equal(t, 20, cfg.Chunking.Overlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model, "tei default model")
	assert.Equal(t, "sk-test-key", cfg.Generation.APIKey.Value())
	assert.Equal(t, 10*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, testYAML)

	t.Setenv("RAGD_TENANT", "override_tenant")
	t.Setenv("RAGD_CHUNKING_MAX_SIZE", "500")
	t.Setenv("RAGD_VECTORSTORE_QDRANT_HOST", "10.0.0.5")
	t.Setenv("RAGD_CORPUS_FORCE_REFRESH", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "override_tenant", cfg.Tenant)
	assert.Equal(t, 500, cfg.Chunking.MaxSize)
	assert.Equal(t, "10.0.0.5", cfg.VectorStore.Qdrant.Host)
	assert.True(t, cfg.Corpus.ForceRefresh)
}

func TestLoadWithFile_EnvOnly(t *testing.T) {
	t.Setenv("RAGD_TENANT", "docs")
	t.Setenv("RAGD_SOURCES", "https://example.com/one,https://example.com/two")
	t.Setenv("RAGD_EMBEDDINGS_PROVIDER", "hash")
	t.Setenv("RAGD_EMBEDDINGS_DIMENSION", "32")

	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "ragd.yaml"))
	require.Error(t, err, "explicit path that does not exist must fail")

	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	cfg, err = LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/one", "https://example.com/two"}, cfg.Sources)
	assert.Equal(t, 32, cfg.Embeddings.Dimension)
}

func TestLoadWithFile_InvalidConfigIsFatal(t *testing.T) {
	_, err := LoadWithFile(writeConfig(t, "tenant: ok\nsources: []\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadWithFile_MalformedYAML(t *testing.T) {
	_, err := LoadWithFile(writeConfig(t, "tenant: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoadWithFile_RejectsOversizedFile(t *testing.T) {
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	_, err := LoadWithFile(writeConfig(t, big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestSection(t *testing.T) {
	cfg, err := LoadWithFile(writeConfig(t, testYAML))
	require.NoError(t, err)

	var logging struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
		Extra  string `koanf:"extra"`
	}
	logging.Extra = "kept"

	require.NoError(t, cfg.Section("logging", &logging))
	assert.Equal(t, "debug", logging.Level)
	assert.Equal(t, "console", logging.Format)
	assert.Equal(t, "kept", logging.Extra, "unset keys keep their defaults")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RAGD_TENANT":                        "tenant",
		"RAGD_CHUNKING_MAX_SIZE":             "chunking.max_size",
		"RAGD_VECTORSTORE_QDRANT_USE_TLS":    "vectorstore.qdrant.use_tls",
		"RAGD_VECTORSTORE_COLLECTION_PREFIX": "vectorstore.collection_prefix",
		"RAGD_LOGGING_OUTPUT_STDOUT":         "logging.output.stdout",
		"RAGD_TELEMETRY_METRICS_ENABLED":     "telemetry.metrics.enabled",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "sk-super-secret", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
