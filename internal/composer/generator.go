package composer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// Generator produces a completion for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// GeneratorConfig configures an LLMGenerator.
type GeneratorConfig struct {
	// Provider is one of: openai, anthropic, ollama.
	Provider string
	Model    string
	BaseURL  string
	APIKey   config.Secret
	// Temperature is passed through unchanged. Grounded answers use 0.
	Temperature float64
	// MaxTokens bounds the completion. Zero leaves the provider default.
	MaxTokens int
	// HTTPClient is the base client; its transport is wrapped to record
	// response status codes.
	HTTPClient *http.Client
}

// GeneratorConfigFrom maps the generation section of the application config.
func GeneratorConfigFrom(c config.GenerationConfig) GeneratorConfig {
	return GeneratorConfig{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// LLMGenerator calls a langchaingo model and classifies its failures.
type LLMGenerator struct {
	model    llms.Model
	provider string
	mapper   *llms.ErrorMapper
	opts     []llms.CallOption
}

// NewLLMGenerator builds the langchaingo model named by cfg.Provider.
func NewLLMGenerator(cfg GeneratorConfig) (*LLMGenerator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	client := withStatusRecording(cfg.HTTPClient)

	var (
		model  llms.Model
		mapper *llms.ErrorMapper
		err    error
	)
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(client),
		}
		if cfg.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
		}
		model, err = openai.New(opts...)
		mapper = llms.OpenAIErrorMapper()
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithModel(cfg.Model),
			anthropic.WithHTTPClient(client),
		}
		if cfg.APIKey.IsSet() {
			opts = append(opts, anthropic.WithToken(cfg.APIKey.Value()))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
		}
		model, err = anthropic.New(opts...)
		mapper = llms.AnthropicErrorMapper()
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(client),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
		mapper = llms.NewErrorMapper("ollama")
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s model: %v", ErrInvalidConfig, cfg.Provider, err)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	callOpts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(cfg.MaxTokens))
	}

	return &LLMGenerator{model: model, provider: provider, mapper: mapper, opts: callOpts}, nil
}

// Provider returns the provider name.
func (g *LLMGenerator) Provider() string {
	return g.provider
}

// Generate sends prompt as a single user message. Failures are returned as
// *Error.
func (g *LLMGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	rec := &statusRecorder{}
	text, err := llms.GenerateFromSinglePrompt(withStatusRecorder(ctx, rec), g.model, prompt, g.opts...)
	if err != nil {
		return "", g.classifyCall(err, rec.last())
	}
	return text, nil
}

// classifyCall prefers the HTTP status of the last response over the error
// text, which differs between providers.
func (g *LLMGenerator) classifyCall(err error, status int) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindModelUnavailable, Err: err}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Err: err}
	case status != 0 && (status < 200 || status > 299):
		return &Error{Kind: KindModelUnavailable, Err: err}
	case status != 0:
		// The provider answered 2xx but the client could not use the body.
		return &Error{Kind: KindMalformedResponse, Err: err}
	}
	return classify(g.mapper.Map(err))
}
