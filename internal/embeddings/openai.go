package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/config"
	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// keylessToken is sent to OpenAI-compatible servers that do not check keys.
// langchaingo refuses to build a client without one.
const keylessToken = "unused"

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKey    config.Secret
	Dimension int
	// BatchSize caps texts per request. Zero keeps the langchaingo default.
	BatchSize  int
	HTTPClient *http.Client
}

// OpenAIProvider embeds through the OpenAI embeddings API or any server that
// speaks it (vLLM, LocalAI, Ollama's /v1).
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	client    *http.Client
	baseURL   string
	token     string
	dimension int
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	token := cfg.APIKey.Value()
	if token == "" {
		token = keylessToken
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithHTTPClient(client),
	}
	// Only the v3 models accept a reduced output width.
	if native, ok := KnownDimension(cfg.Model); ok && native != cfg.Dimension && strings.HasPrefix(cfg.Model, "text-embedding-3") {
		opts = append(opts, openai.WithEmbeddingDimensions(cfg.Dimension))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	var embedOpts []lcembeddings.Option
	if cfg.BatchSize > 0 {
		embedOpts = append(embedOpts, lcembeddings.WithBatchSize(cfg.BatchSize))
	}
	embedder, err := lcembeddings.NewEmbedder(llm, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		client:    client,
		baseURL:   baseURL,
		token:     token,
		dimension: cfg.Dimension,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the configured output width.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Ping lists models, which every OpenAI-compatible server exposes.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET /models returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// Close is a no-op for HTTP providers.
func (p *OpenAIProvider) Close() error {
	return nil
}
