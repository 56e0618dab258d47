package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "RAGD_"
)

// nestedSections lists second-level sections so that
// RAGD_VECTORSTORE_QDRANT_HOST maps to vectorstore.qdrant.host rather
// than vectorstore.qdrant_host.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
	"logging":     {"output", "sampling", "caller", "stacktrace", "redaction"},
	"telemetry":   {"sampling", "metrics", "shutdown"},
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RAGD_CHUNKING_MAX_SIZE, RAGD_TENANT, etc.)
//  2. YAML config file
//  3. Hardcoded defaults
//
// When configPath is empty, ./ragd.yaml and ~/.config/ragd/config.yaml are
// tried in order and a missing file is not an error. An explicit configPath
// that does not exist is an error.
//
// # Environment Variable Mapping
//
// The RAGD_ prefix is removed, the rest is lowercased and split on the
// first underscore (section.field_name):
//
//	RAGD_CHUNKING_MAX_SIZE         -> chunking.max_size
//	RAGD_VECTORSTORE_QDRANT_HOST   -> vectorstore.qdrant.host
//	RAGD_SOURCES=https://a,https://b -> sources (comma separated list)
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	path, explicit := configPath, configPath != ""
	if !explicit {
		path = findDefaultConfig()
	}

	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps RAGD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}

	for _, sub := range nestedSections[section] {
		if rest, ok := strings.CutPrefix(field, sub+"_"); ok {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// findDefaultConfig returns the first default config location that exists.
func findDefaultConfig() string {
	candidates := []string{"ragd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ragd", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Corpus.Path == "" {
		cfg.Corpus.Path = filepath.Join("data", "corpus.txt")
	}

	// Fetch defaults
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 3
	}
	if cfg.Fetch.InitialBackoff == 0 {
		cfg.Fetch.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Fetch.MaxBackoff == 0 {
		cfg.Fetch.MaxBackoff = 10 * time.Second
	}
	if cfg.Fetch.RequestsPerSecond == 0 {
		cfg.Fetch.RequestsPerSecond = 2
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "ragd/1.0 (+https://github.com/fyrsmithlabs/ragd)"
	}

	// Chunking defaults
	if cfg.Chunking.MaxSize == 0 {
		cfg.Chunking.MaxSize = 100
	}

	// Retrieval defaults
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 30 * time.Second
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	switch cfg.Embeddings.Provider {
	case "openai":
		if cfg.Embeddings.BaseURL == "" {
			cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embeddings.Model == "" {
			cfg.Embeddings.Model = "text-embedding-3-small"
		}
		if !cfg.Embeddings.APIKey.IsSet() {
			cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		}
	case "tei":
		if cfg.Embeddings.BaseURL == "" {
			cfg.Embeddings.BaseURL = "http://localhost:8080"
		}
		if cfg.Embeddings.Model == "" {
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		}
	case "fastembed":
		if cfg.Embeddings.Model == "" {
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		}
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}

	// Generation defaults
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.Model = "gpt-3.5-turbo"
		case "anthropic":
			cfg.Generation.Model = "claude-3-haiku-20240307"
		case "ollama":
			cfg.Generation.Model = "llama3"
		}
	}
	if !cfg.Generation.APIKey.IsSet() {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		case "anthropic":
			cfg.Generation.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 256
	}
	if cfg.Generation.MaxSentences == 0 {
		cfg.Generation.MaxSentences = 3
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.InitialBackoff == 0 {
		cfg.Generation.InitialBackoff = time.Second
	}

	// VectorStore defaults (chromem is default - embedded, no external deps)
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.CollectionPrefix == "" {
		cfg.VectorStore.CollectionPrefix = "rag"
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = 30 * time.Second
	}
	if cfg.VectorStore.Provider == "qdrant" {
		if cfg.VectorStore.Qdrant.Host == "" {
			cfg.VectorStore.Qdrant.Host = "localhost"
		}
		if cfg.VectorStore.Qdrant.Port == 0 {
			cfg.VectorStore.Qdrant.Port = 6334
		}
	}

	// Ingest defaults
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
}
