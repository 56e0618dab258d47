package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Status is the overall health verdict.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
)

// ServiceStatus is the state of one external dependency.
type ServiceStatus string

const (
	ServiceOnline  ServiceStatus = "online"
	ServiceOffline ServiceStatus = "offline"
	ServiceError   ServiceStatus = "error"
)

// Service names used in HealthStatus.Services.
const (
	ServiceEmbeddings  = "embeddings"
	ServiceVectorIndex = "vector_index"
)

// HealthStatus is the result of Health.
type HealthStatus struct {
	EmbeddingProviderReachable bool                     `json:"embedding_provider_reachable"`
	VectorIndexReachable       bool                     `json:"vector_index_reachable"`
	Status                     Status                   `json:"status"`
	Version                    string                   `json:"version"`
	CheckedAt                  time.Time                `json:"checked_at"`
	Services                   map[string]ServiceStatus `json:"services"`
	Generation                 string                   `json:"generation,omitempty"`
	IndexedChunks              int                      `json:"indexed_chunks"`
	BuiltAt                    *time.Time               `json:"built_at,omitempty"`
}

// Health pings the embedding provider and the vector index concurrently
// under a short timeout and reports the published generation. It never
// runs a query. A pipeline without a published generation, or a closed
// one, is degraded even when both services answer.
func (p *Pipeline) Health(ctx context.Context) HealthStatus {
	hs := Probe(ctx, p.deps.Embedder, p.deps.Index, p.cfg.HealthTimeout)
	hs.Version = p.cfg.Version

	gen := p.current.Load()
	if gen != nil {
		hs.Generation = gen.partition.Generation
		hs.IndexedChunks = gen.chunks
		builtAt := gen.builtAt
		hs.BuiltAt = &builtAt
	}
	if gen == nil || p.closed.Load() {
		hs.Status = StatusDegraded
	}
	if hs.Status == StatusDegraded {
		p.logger.Warn(ctx, "health check degraded",
			zap.Bool("embeddings_reachable", hs.EmbeddingProviderReachable),
			zap.Bool("vector_index_reachable", hs.VectorIndexReachable),
			zap.Bool("published", gen != nil))
	}
	return hs
}

// Probe pings embedder and index concurrently. A zero timeout means 5s.
// It needs no pipeline, so it can check dependencies before a build.
func Probe(ctx context.Context, embedder embeddings.Provider, index vectorstore.Index, timeout time.Duration) HealthStatus {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Both results are reported, so the goroutines never return an error
	// and one failed ping does not stop the other.
	var (
		g                errgroup.Group
		embedErr, idxErr error
	)
	g.Go(func() error {
		embedErr = embedder.Ping(ctx)
		return nil
	})
	g.Go(func() error {
		idxErr = index.Ping(ctx)
		return nil
	})
	_ = g.Wait()

	hs := HealthStatus{
		EmbeddingProviderReachable: embedErr == nil,
		VectorIndexReachable:       idxErr == nil,
		Status:                     StatusOnline,
		CheckedAt:                  time.Now().UTC(),
		Services: map[string]ServiceStatus{
			ServiceEmbeddings:  serviceStatus(embedErr, embeddings.ErrUnreachable),
			ServiceVectorIndex: serviceStatus(idxErr, vectorstore.ErrConnection),
		},
	}
	if embedErr != nil || idxErr != nil {
		hs.Status = StatusDegraded
	}
	return hs
}

// serviceStatus maps a ping error: unreachable and timed-out services are
// offline, anything else is an error.
func serviceStatus(err, unreachable error) ServiceStatus {
	switch {
	case err == nil:
		return ServiceOnline
	case errors.Is(err, unreachable), errors.Is(err, context.DeadlineExceeded):
		return ServiceOffline
	default:
		return ServiceError
	}
}
