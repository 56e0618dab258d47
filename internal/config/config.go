// Package config provides configuration loading for ragd.
//
// Configuration is loaded once at startup from a YAML file and environment
// overrides (see LoadWithFile). Missing or malformed configuration is a
// fatal startup error.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/knadh/koanf/v2"
)

// ErrInvalidConfig indicates a configuration value failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// tenantPattern restricts tenants to names that are safe inside collection names.
var tenantPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,31}$`)

// Config holds the complete ragd configuration.
type Config struct {
	// Tenant scopes every vector index operation.
	Tenant string `koanf:"tenant"`

	// Sources are the document URIs fetched into the corpus.
	Sources []string `koanf:"sources"`

	Corpus      CorpusConfig      `koanf:"corpus"`
	Fetch       FetchConfig       `koanf:"fetch"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`

	// k retains the loaded tree so other packages can decode their own
	// sections (logging, telemetry) without an import cycle.
	k *koanf.Koanf
}

// CorpusConfig controls where the normalized corpus lives and when it is refreshed.
type CorpusConfig struct {
	Path         string        `koanf:"path"`
	ForceRefresh bool          `koanf:"force_refresh"`
	MaxAge       time.Duration `koanf:"max_age"`
}

// FetchConfig holds source fetcher settings.
type FetchConfig struct {
	Timeout           time.Duration `koanf:"timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	UserAgent         string        `koanf:"user_agent"`
}

// ChunkingConfig holds chunker bounds, measured in characters.
type ChunkingConfig struct {
	MaxSize int `koanf:"max_size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig holds retriever settings.
type RetrievalConfig struct {
	TopK    int           `koanf:"top_k"`
	Timeout time.Duration `koanf:"timeout"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of: openai, tei, fastembed, hash.
	Provider  string        `koanf:"provider"`
	BaseURL   string        `koanf:"base_url"`
	Model     string        `koanf:"model"`
	APIKey    Secret        `koanf:"api_key"`
	Dimension int           `koanf:"dimension"`
	Timeout   time.Duration `koanf:"timeout"`
	CacheDir  string        `koanf:"cache_dir"`
}

// GenerationConfig selects and configures the generative model.
type GenerationConfig struct {
	// Provider is one of: openai, anthropic, ollama.
	Provider       string        `koanf:"provider"`
	BaseURL        string        `koanf:"base_url"`
	Model          string        `koanf:"model"`
	APIKey         Secret        `koanf:"api_key"`
	Temperature    float64       `koanf:"temperature"`
	MaxTokens      int           `koanf:"max_tokens"`
	MaxSentences   int           `koanf:"max_sentences"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is one of: chromem, qdrant.
	Provider         string        `koanf:"provider"`
	CollectionPrefix string        `koanf:"collection_prefix"`
	Timeout          time.Duration `koanf:"timeout"`
	Chromem          ChromemConfig `koanf:"chromem"`
	Qdrant           QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go backend.
// An empty Path keeps the index in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	APIKey       Secret        `koanf:"api_key"`
	UseTLS       bool          `koanf:"use_tls"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// IngestConfig controls the ingestion worker pool.
type IngestConfig struct {
	BatchSize int `koanf:"batch_size"`
	Workers   int `koanf:"workers"`
}

// Section decodes the named configuration subtree into out.
// Values already present in out are kept for keys that are not configured,
// so callers pass a struct pre-populated with defaults.
func (c *Config) Section(path string, out interface{}) error {
	if c.k == nil {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s config: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !tenantPattern.MatchString(c.Tenant) {
		return fmt.Errorf("%w: tenant must match %s, got %q", ErrInvalidConfig, tenantPattern, c.Tenant)
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrInvalidConfig)
	}
	for _, src := range c.Sources {
		u, err := url.Parse(src)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: source %q is not an http(s) URL", ErrInvalidConfig, src)
		}
	}

	if c.Corpus.Path == "" {
		return fmt.Errorf("%w: corpus.path is required", ErrInvalidConfig)
	}
	if c.Corpus.MaxAge < 0 {
		return fmt.Errorf("%w: corpus.max_age cannot be negative", ErrInvalidConfig)
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("%w: fetch.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: fetch.requests_per_second must be positive", ErrInvalidConfig)
	}

	if c.Chunking.MaxSize <= 0 {
		return fmt.Errorf("%w: chunking.max_size must be positive, got %d", ErrInvalidConfig, c.Chunking.MaxSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		return fmt.Errorf("%w: chunking.overlap must be in [0, max_size), got %d", ErrInvalidConfig, c.Chunking.Overlap)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrInvalidConfig)
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "fastembed", "hash":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		return fmt.Errorf("%w: embeddings.dimension cannot be negative", ErrInvalidConfig)
	}
	if c.Embeddings.Provider == "hash" && c.Embeddings.Dimension == 0 {
		return fmt.Errorf("%w: embeddings.dimension is required for the hash provider", ErrInvalidConfig)
	}

	switch c.Generation.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("%w: unknown generation.provider %q", ErrInvalidConfig, c.Generation.Provider)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 0.2 {
		return fmt.Errorf("%w: generation.temperature must stay within [0, 0.2] for reproducible answers", ErrInvalidConfig)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("%w: generation.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Generation.MaxSentences < 0 {
		return fmt.Errorf("%w: generation.max_sentences cannot be negative", ErrInvalidConfig)
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: vectorstore.qdrant.host is required", ErrInvalidConfig)
		}
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid vectorstore.qdrant.port %d", ErrInvalidConfig, c.VectorStore.Qdrant.Port)
		}
	default:
		return fmt.Errorf("%w: unknown vectorstore.provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	if c.Ingest.BatchSize <= 0 || c.Ingest.Workers <= 0 {
		return fmt.Errorf("%w: ingest.batch_size and ingest.workers must be positive", ErrInvalidConfig)
	}

	for name, d := range map[string]time.Duration{
		"fetch.timeout":       c.Fetch.Timeout,
		"retrieval.timeout":   c.Retrieval.Timeout,
		"embeddings.timeout":  c.Embeddings.Timeout,
		"generation.timeout":  c.Generation.Timeout,
		"vectorstore.timeout": c.VectorStore.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}

	return nil
}
