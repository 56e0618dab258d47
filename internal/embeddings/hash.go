package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic feature-hashing embedder. Lowercased word tokens
// are hashed into signed buckets and the result is L2-normalized, so texts
// sharing words have positive cosine similarity. It needs no network or
// model files and is meant for tests and offline smoke runs.
type Hash struct {
	dimension int
}

// NewHash creates a hash embedder producing dimension-wide vectors.
func NewHash(dimension int) (*Hash, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: hash embedder needs a positive dimension", ErrInvalidConfig)
	}
	return &Hash{dimension: dimension}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (h *Hash) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (h *Hash) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *Hash) embed(text string) []float32 {
	v := make([]float32, h.dimension)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dimension))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Keep the vector normalizable for cosine backends.
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Dimension returns the configured output width.
func (h *Hash) Dimension() int {
	return h.dimension
}

// Ping always succeeds.
func (h *Hash) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (h *Hash) Close() error {
	return nil
}
