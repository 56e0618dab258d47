package embeddings

import (
	"context"
	"fmt"
	"time"
)

const defaultTimeout = 30 * time.Second

// instrumented applies the call timeout, validates vector widths and records
// metrics around a concrete provider.
type instrumented struct {
	Provider
	model   string
	timeout time.Duration
	metrics *Metrics
}

func newInstrumented(p Provider, model string, timeout time.Duration, metrics *Metrics) *instrumented {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &instrumented{Provider: p, model: model, timeout: timeout, metrics: metrics}
}

func (p *instrumented) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordCall(ctx, p.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vectors, err = p.Provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err = p.checkWidth(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (p *instrumented) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordCall(ctx, p.model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vector, err = p.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err = p.checkWidth(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (p *instrumented) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.Provider.Ping(ctx)
}

func (p *instrumented) checkWidth(v []float32) error {
	if want := p.Provider.Dimension(); len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}
