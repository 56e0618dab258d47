package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/vectorstore/chromem")

// errPrecomputed is returned if chromem ever tries to embed text itself.
var errPrecomputed = errors.New("records must carry precomputed embeddings")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything
	// in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// CollectionPrefix starts every collection name.
	// Default: "ragd"
	CollectionPrefix string

	// Dimension is the embedding width every vector must have.
	Dimension int

	// Concurrency bounds parallel document writes. Default: GOMAXPROCS.
	Concurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = DefaultCollectionPrefix
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	return ValidatePrefix(c.CollectionPrefix)
}

// ChromemIndex implements Index on chromem-go.
//
// chromem keeps every document in memory and, when a path is set, writes
// each one to a gob file as it is added. Queries are exhaustive cosine
// searches, which is fine at the corpus sizes a single node serves.
type ChromemIndex struct {
	db     *chromem.DB
	cfg    ChromemConfig
	path   string
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool

	// createMu serializes collection creation and deletion. chromem's
	// GetOrCreateCollection replaces a collection created concurrently,
	// losing the documents already added to it.
	createMu sync.Mutex
}

// NewChromemIndex opens or creates an index at cfg.Path.
func NewChromemIndex(ctx context.Context, cfg ChromemConfig, logger *logging.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idx := &ChromemIndex{cfg: cfg, logger: logger}
	if cfg.Path == "" {
		idx.db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, newError("open", KindConnection, fmt.Errorf("creating directory %s: %w", path, err))
		}
		db, err := openPersistentDB(ctx, path, cfg.Compress, logger)
		if err != nil {
			return nil, newError("open", KindConnection, err)
		}
		idx.db = db
		idx.path = path
	}

	logger.Info(ctx, "chromem index ready",
		zap.String("path", idx.path),
		zap.Bool("persistent", idx.path != ""),
		zap.Bool("compress", cfg.Compress),
		zap.Int("dimension", cfg.Dimension),
	)
	return idx, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, rest), nil
	}
	return path, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// open returns an error while the index is closed. Callers hold mu.
func (c *ChromemIndex) open(op string) error {
	if c.closed {
		return newError(op, KindConnection, errors.New("index is closed"))
	}
	return nil
}

func (c *ChromemIndex) collectionName(op string, p Partition) (string, error) {
	name, err := CollectionName(c.cfg.CollectionPrefix, p)
	if err != nil {
		return "", newError(op, KindInvalid, err)
	}
	return name, nil
}

// Upsert implements Index.
func (c *ChromemIndex) Upsert(ctx context.Context, p Partition, records []Record) (err error) {
	const op = "upsert"
	start := time.Now()
	defer func() { observe(op, start, err) }()
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert", trace.WithAttributes(
		attribute.String("tenant", p.Tenant),
		attribute.String("generation", p.Generation),
		attribute.Int("record_count", len(records)),
	))
	defer func() { endSpan(span, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.open(op); err != nil {
		return err
	}
	name, err := c.collectionName(op, p)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if r.ID == "" {
			return newError(op, KindInvalid, fmt.Errorf("record %d has no id", i))
		}
		if err := checkVector(r.Embedding, c.cfg.Dimension); err != nil {
			return newError(op, KindDimensionMismatch, fmt.Errorf("record %s: %w", r.ID, err))
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Embedding,
			Metadata:  recordMetadata(p, r),
		}
	}

	coll, err := c.collection(name, p.Tenant)
	if err != nil {
		return newError(op, KindBackend, fmt.Errorf("collection %s: %w", name, err))
	}
	if err := coll.AddDocuments(ctx, docs, c.cfg.Concurrency); err != nil {
		return newError(op, KindBackend, fmt.Errorf("adding documents to %s: %w", name, err))
	}

	logging.FromContext(ctx).Trace(ctx, "records upserted",
		zap.String("collection", name),
		zap.Int("count", len(docs)))
	return nil
}

// collection returns the named collection, creating it at most once.
func (c *ChromemIndex) collection(name, tenant string) (*chromem.Collection, error) {
	if coll := c.db.GetCollection(name, refuseEmbedding); coll != nil {
		return coll, nil
	}
	c.createMu.Lock()
	defer c.createMu.Unlock()
	if coll := c.db.GetCollection(name, refuseEmbedding); coll != nil {
		return coll, nil
	}
	return c.db.CreateCollection(name, map[string]string{payloadTenant: tenant}, refuseEmbedding)
}

// Query implements Index.
func (c *ChromemIndex) Query(ctx context.Context, p Partition, embedding []float32, k int) (_ []Match, err error) {
	const op = "query"
	start := time.Now()
	defer func() { observe(op, start, err) }()
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query", trace.WithAttributes(
		attribute.String("tenant", p.Tenant),
		attribute.String("generation", p.Generation),
		attribute.Int("k", k),
	))
	defer func() { endSpan(span, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.open(op); err != nil {
		return nil, err
	}
	name, err := c.collectionName(op, p)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, newError(op, KindInvalid, fmt.Errorf("k must be positive, got %d", k))
	}
	if err := checkVector(embedding, c.cfg.Dimension); err != nil {
		return nil, newError(op, KindDimensionMismatch, err)
	}

	coll := c.db.GetCollection(name, refuseEmbedding)
	if coll == nil {
		return []Match{}, nil
	}
	n := min(k, coll.Count())
	if n == 0 {
		return []Match{}, nil
	}

	results, err := coll.QueryEmbedding(ctx, embedding, n, tenantFilter(p), nil)
	if err != nil {
		return nil, newError(op, KindBackend, fmt.Errorf("querying %s: %w", name, err))
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Metadata[payloadTenant] != p.Tenant {
			continue
		}
		matches = append(matches, Match{
			ID:        r.ID,
			Text:      r.Content,
			SourceTag: r.Metadata[payloadSourceTag],
			Score:     r.Similarity,
			Metadata:  userMetadata(r.Metadata),
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// DropPartition implements Index.
func (c *ChromemIndex) DropPartition(ctx context.Context, p Partition) (err error) {
	const op = "drop"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.open(op); err != nil {
		return err
	}
	name, err := c.collectionName(op, p)
	if err != nil {
		return err
	}
	c.createMu.Lock()
	err = c.db.DeleteCollection(name)
	c.createMu.Unlock()
	if err != nil {
		return newError(op, KindBackend, fmt.Errorf("deleting %s: %w", name, err))
	}
	c.logger.Debug(ctx, "partition dropped", zap.String("collection", name))
	return nil
}

// Partitions implements Index.
func (c *ChromemIndex) Partitions(_ context.Context, tenant string) (_ []Partition, err error) {
	const op = "partitions"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.open(op); err != nil {
		return nil, err
	}
	if err := ValidateTenant(tenant); err != nil {
		return nil, newError(op, KindInvalid, err)
	}
	collections := c.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return tenantPartitions(c.cfg.CollectionPrefix, tenant, names), nil
}

// Dimension implements Index.
func (c *ChromemIndex) Dimension() int {
	return c.cfg.Dimension
}

// Ping reports whether the index is open and its directory still exists.
func (c *ChromemIndex) Ping(context.Context) (err error) {
	defer func() { recordPing(err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.open("ping"); err != nil {
		return err
	}
	if c.path == "" {
		return nil
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return newError("ping", KindConnection, err)
	}
	if !info.IsDir() {
		return newError("ping", KindConnection, fmt.Errorf("%s is not a directory", c.path))
	}
	return nil
}

// Close marks the index closed. Documents are already on disk, so there is
// nothing to flush.
func (c *ChromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ Index = (*ChromemIndex)(nil)
