// Package retriever turns a question into the top-K most similar chunks of a
// published index generation.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// DefaultK is the number of chunks retrieved when the caller passes k <= 0.
const DefaultK = 5

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/retriever")

// Embedder embeds a single query. embeddings.Provider satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ScoredChunk is one retrieved chunk.
type ScoredChunk struct {
	ID        string
	Text      string
	SourceTag string
	Score     float32
}

// Result holds up to K chunks ordered by descending score.
type Result struct {
	Chunks []ScoredChunk
	Took   time.Duration
}

// Context joins the chunk texts, best first, separated by blank lines.
func (r *Result) Context() string {
	if r == nil {
		return ""
	}
	texts := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Empty reports whether nothing was retrieved.
func (r *Result) Empty() bool {
	return r == nil || len(r.Chunks) == 0
}

// Kind says which stage failed.
type Kind int

const (
	KindEmbedding Kind = iota + 1
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindEmbedding:
		return "embedding"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

var (
	ErrEmbedding = errors.New("retriever: embedding failed")
	ErrIndex     = errors.New("retriever: index query failed")
)

// Error is returned by Retrieve.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrEmbedding:
		return e.Kind == KindEmbedding
	case ErrIndex:
		return e.Kind == KindIndex
	}
	return false
}

// Retriever embeds questions and searches an index.
type Retriever struct {
	embedder Embedder
	index    vectorstore.Index
	logger   *logging.Logger
}

// New creates a Retriever.
func New(embedder Embedder, index vectorstore.Index, logger *logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve returns the k chunks of p most similar to question. An empty
// result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, p vectorstore.Partition, question string, k int) (_ *Result, err error) {
	if k <= 0 {
		k = DefaultK
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", p.Tenant),
		attribute.String("generation", p.Generation),
		attribute.Int("k", k),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, &Error{Kind: KindEmbedding, Err: err}
	}

	matches, err := r.index.Query(ctx, p, vec, k)
	if err != nil {
		return nil, &Error{Kind: KindIndex, Err: err}
	}

	chunks := make([]ScoredChunk, len(matches))
	for i, m := range matches {
		chunks[i] = ScoredChunk{ID: m.ID, Text: m.Text, SourceTag: m.SourceTag, Score: m.Score}
	}
	slices.SortStableFunc(chunks, func(a, b ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(chunks) > k {
		chunks = chunks[:k]
	}

	res := &Result{Chunks: chunks, Took: time.Since(start)}
	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	r.logger.Debug(ctx, "retrieved chunks",
		zap.Int("k", k),
		zap.Int("count", len(chunks)),
		zap.Duration("took", res.Took))
	return res, nil
}
