// Package composer turns a question and retrieved context into a short,
// grounded answer from a generative model.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// InsufficientContextAnswer is returned without calling the model when
// nothing was retrieved.
const InsufficientContextAnswer = "I don't know. The retrieved context does not contain enough information to answer the question."

const promptTemplate = "You are an assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer the question. " +
	"If you don't know the answer, just say that you don't know. " +
	"Use three sentences maximum and keep the answer concise.\n" +
	"Question: {{.question}}\n" +
	"Context: {{.context}}\n" +
	"Answer:"

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/composer")

// Config bounds a Compose call.
type Config struct {
	// MaxSentences caps the answer length. Zero disables the cap.
	MaxSentences int
	// Timeout bounds each model call. Zero means 30s.
	Timeout time.Duration
	// MaxAttempts bounds calls per question, rate-limit retries included.
	MaxAttempts int
	// InitialBackoff is the first wait after a rate-limit response.
	InitialBackoff time.Duration
}

// ConfigFrom maps the generation section of the application config.
func ConfigFrom(c config.GenerationConfig) Config {
	return Config{
		MaxSentences:   c.MaxSentences,
		Timeout:        c.Timeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
}

// Composer renders the grounding prompt and calls a Generator.
type Composer struct {
	gen    Generator
	prompt prompts.PromptTemplate
	cfg    Config
	logger *logging.Logger
}

// New creates a Composer.
func New(gen Generator, cfg Config, logger *logging.Logger) (*Composer, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: generator required", ErrInvalidConfig)
	}
	if cfg.MaxSentences < 0 {
		return nil, fmt.Errorf("%w: max sentences cannot be negative", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.applyDefaults()
	return &Composer{
		gen:    gen,
		prompt: prompts.NewPromptTemplate(promptTemplate, []string{"question", "context"}),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Prompt renders the grounding prompt.
func (c *Composer) Prompt(question, retrievedContext string) (string, error) {
	return c.prompt.Format(map[string]any{
		"question": question,
		"context":  retrievedContext,
	})
}

// Compose answers question from retrievedContext only. Rate-limited calls
// are retried with exponential backoff; every other failure is returned at
// once as *Error.
func (c *Composer) Compose(ctx context.Context, question, retrievedContext string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "Composer.Compose")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if strings.TrimSpace(retrievedContext) == "" {
		span.SetAttributes(attribute.Bool("insufficient_context", true))
		c.logger.Debug(ctx, "no retrieved context, skipping model call")
		return InsufficientContextAnswer, nil
	}

	prompt, err := c.Prompt(question, retrievedContext)
	if err != nil {
		return "", &Error{Kind: KindMalformedResponse, Err: fmt.Errorf("rendering prompt: %w", err)}
	}

	attempts := 0
	op := func() (string, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		text, err := c.gen.Generate(callCtx, prompt)
		if err != nil {
			ce := classify(err)
			if ce.Kind == KindRateLimit {
				return "", ce
			}
			return "", backoff.Permanent(ce)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", backoff.Permanent(&Error{Kind: KindMalformedResponse, Err: errEmptyAnswer})
		}
		return text, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	answer, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn(ctx, "model rate limited, retrying",
				zap.Error(err),
				zap.Duration("wait", wait))
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return "", ce
		}
		// Retry gave up on the context rather than on a model error.
		return "", &Error{Kind: KindModelUnavailable, Err: err}
	}

	answer = limitSentences(answer, c.cfg.MaxSentences)
	c.logger.Debug(ctx, "composed answer",
		zap.Int("attempts", attempts),
		zap.Int("answer_len", len(answer)))
	return answer, nil
}

// limitSentences keeps the first n sentences of text. A sentence ends at
// '.', '!' or '?' followed by whitespace or the end of the text.
func limitSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			return string(runes[:i+1])
		}
	}
	return text
}
