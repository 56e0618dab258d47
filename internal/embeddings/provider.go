package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates a vector whose width differs from Dimension().
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnreachable indicates a failed health probe.
	ErrUnreachable = errors.New("embedding provider unreachable")
)

// Provider maps text to fixed-width vectors.
type Provider interface {
	// EmbedDocuments embeds texts in order, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the width of every vector the provider produces.
	Dimension() int
	// Ping checks that the provider can serve requests without embedding anything.
	Ping(ctx context.Context) error
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of: openai, tei, fastembed, hash.
	Provider string
	Model    string
	// BaseURL is the API root for openai and tei.
	BaseURL string
	APIKey  config.Secret
	// Dimension overrides the known-model table. Required for hash and for
	// models the table does not list.
	Dimension int
	// Timeout bounds every call. Zero means 30s.
	Timeout time.Duration
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// BatchSize caps texts per request (openai only).
	BatchSize int

	// HTTPClient replaces the default client for HTTP providers.
	HTTPClient *http.Client
	// Meter records call metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// FromConfig maps the embeddings section of the application config.
func FromConfig(c config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		Dimension: c.Dimension,
		Timeout:   c.Timeout,
		CacheDir:  c.CacheDir,
	}
}

// NewProvider creates an instrumented embedding provider from cfg.
func NewProvider(cfg ProviderConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	dim, err := resolveDimension(cfg)
	if err != nil {
		return nil, err
	}

	var base Provider
	switch cfg.Provider {
	case "openai", "":
		base, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			Dimension:  dim,
			BatchSize:  cfg.BatchSize,
			HTTPClient: cfg.HTTPClient,
		})
	case "tei":
		base, err = NewTEIProvider(TEIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			Dimension:  dim,
			HTTPClient: cfg.HTTPClient,
		})
	case "fastembed":
		base, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		base, err = NewHash(dim)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = cfg.Provider
	}
	logger.Info(context.Background(), "embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", model),
		zap.Int("dimension", base.Dimension()),
	)

	return newInstrumented(base, model, cfg.Timeout, NewMetrics(cfg.Meter, logger)), nil
}

// resolveDimension prefers the configured dimension and falls back to the
// known-model table. FastEmbed models are always looked up.
func resolveDimension(cfg ProviderConfig) (int, error) {
	if cfg.Dimension < 0 {
		return 0, fmt.Errorf("%w: dimension cannot be negative", ErrInvalidConfig)
	}
	if cfg.Dimension > 0 {
		return cfg.Dimension, nil
	}
	if dim, ok := KnownDimension(cfg.Model); ok {
		return dim, nil
	}
	if cfg.Provider == "fastembed" {
		// NewFastEmbedProvider reports unsupported models itself.
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unknown dimension for model %q, set embeddings.dimension", ErrInvalidConfig, cfg.Model)
}
