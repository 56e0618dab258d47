package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/go-resty/resty/v2"
)

// TEIConfig configures a HuggingFace Text Embeddings Inference server.
type TEIConfig struct {
	BaseURL   string
	Model     string
	APIKey    config.Secret
	Dimension int
	// HTTPClient replaces the default transport.
	HTTPClient *http.Client
}

// TEIProvider embeds through a TEI server's /embed endpoint.
type TEIProvider struct {
	client    *resty.Client
	dimension int
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// NewTEIProvider creates a TEI provider.
func NewTEIProvider(cfg TEIConfig) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}

	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey.IsSet() {
		client.SetAuthToken(cfg.APIKey.Value())
	}

	return &TEIProvider{client: client, dimension: cfg.Dimension}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts)
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

// embed posts inputs, which TEI accepts as a string or a list of strings.
func (p *TEIProvider) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(teiRequest{Inputs: inputs, Truncate: true}).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode(), resp.String())
	}

	var vectors [][]float32
	if err := json.Unmarshal(resp.Body(), &vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// Dimension returns the configured output width.
func (p *TEIProvider) Dimension() int {
	return p.dimension
}

// Ping checks the TEI health endpoint.
func (p *TEIProvider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: GET /health returned %d", ErrUnreachable, resp.StatusCode())
	}
	return nil
}

// Close is a no-op for HTTP providers.
func (p *TEIProvider) Close() error {
	return nil
}
