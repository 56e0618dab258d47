package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// NewIndex creates an Index based on the configuration.
//
// The Provider field selects the backend:
//   - "chromem" (default): embedded ChromemIndex, in memory when no path is set
//   - "qdrant": QdrantIndex, requires a running Qdrant server
//
// dimension is the embedding provider's output width; every vector the
// index accepts must have it.
//
//	idx, err := vectorstore.NewIndex(ctx, cfg.VectorStore, provider.Dimension(), logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
func NewIndex(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *logging.Logger) (Index, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemIndex(ctx, ChromemConfig{
			Path:             cfg.Chromem.Path,
			Compress:         cfg.Chromem.Compress,
			CollectionPrefix: cfg.CollectionPrefix,
			Dimension:        dimension,
		}, logger)

	case "qdrant":
		return NewQdrantIndex(ctx, QdrantConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			APIKey:           cfg.Qdrant.APIKey.Value(),
			UseTLS:           cfg.Qdrant.UseTLS,
			CollectionPrefix: cfg.CollectionPrefix,
			Dimension:        dimension,
			MaxRetries:       cfg.Qdrant.MaxRetries,
			RetryBackoff:     cfg.Qdrant.RetryBackoff,
			Timeout:          cfg.Timeout,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
