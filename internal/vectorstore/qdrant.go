package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/vectorstore/qdrant")

// pointNamespace seeds deterministic point IDs.
var pointNamespace = uuid.MustParse("6f1c1b3e-7d0a-4c52-9a8e-2b1f4d9c0e77")

var errCircuitOpen = errors.New("circuit breaker open")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	APIKey string
	UseTLS bool

	// CollectionPrefix starts every collection name.
	CollectionPrefix string

	// Dimension is the embedding width. New collections are created with
	// it and existing ones must match it.
	Dimension int

	// MaxRetries is the number of retries after the first attempt for
	// transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff between retries.
	// Default: 1 second
	RetryBackoff time.Duration

	// Timeout bounds each operation including its retries.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// BatchSize is the number of points sent per upsert request.
	// Default: 256
	BatchSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures before the circuit opens.
	// Default: 5
	CircuitBreakerThreshold int

	// CircuitBreakerCooldown is how long the circuit stays open.
	// Default: 30 seconds
	CircuitBreakerCooldown time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = DefaultCollectionPrefix
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	}
	return ValidatePrefix(c.CollectionPrefix)
}

// IsTransientError reports whether err is worth retrying.
// Unavailable, DeadlineExceeded, Aborted and ResourceExhausted are; invalid
// requests, missing collections and auth failures are not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// classify wraps a backend error in an IndexError of the right kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IndexError
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, errCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(op, KindConnection, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Canceled, grpccodes.Unauthenticated, grpccodes.PermissionDenied:
			return newError(op, KindConnection, err)
		case grpccodes.InvalidArgument:
			return newError(op, KindInvalid, err)
		}
	}
	return newError(op, KindBackend, err)
}

// qdrantAPI is the subset of *qdrant.Client the index uses.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// circuitBreaker opens after threshold consecutive transient failures and
// lets calls through again once cooldown has passed since the last one.
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	lastFail  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFail = b.now()
}

func (b *circuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *circuitBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.lastFail) > b.cooldown {
		b.failures = 0
		return false
	}
	return true
}

// QdrantIndex implements Index on a Qdrant server over gRPC.
//
// Each partition is a collection created on first upsert with cosine
// distance and a keyword index on the tenant payload field.
type QdrantIndex struct {
	client  qdrantAPI
	cfg     QdrantConfig
	logger  *logging.Logger
	breaker *circuitBreaker

	// ready caches collections known to exist with the right width.
	ready    sync.Map
	createMu sync.Mutex
}

// NewQdrantIndex connects to Qdrant and runs a health check.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantIndex, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext, TLS disabled",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, newError("open", KindConnection, err)
	}

	idx := newQdrantIndex(client, cfg, logger)
	if err := idx.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info(ctx, "qdrant index ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("dimension", cfg.Dimension))
	return idx, nil
}

// newQdrantIndex wires an index around client. cfg must already have
// defaults applied.
func newQdrantIndex(client qdrantAPI, cfg QdrantConfig, logger *logging.Logger) *QdrantIndex {
	return &QdrantIndex{
		client: client,
		cfg:    cfg,
		logger: logger,
		breaker: &circuitBreaker{
			threshold: cfg.CircuitBreakerThreshold,
			cooldown:  cfg.CircuitBreakerCooldown,
			now:       time.Now,
		},
	}
}

// withRetry runs fn with exponential backoff on transient errors. Every
// transient failure counts toward the circuit breaker; a success resets it.
func withRetry[T any](ctx context.Context, q *QdrantIndex, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if q.breaker.isOpen() {
		return zero, errCircuitOpen
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryBackoff
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransientError(err) {
			return zero, backoff.Permanent(err)
		}
		q.breaker.recordFailure()
		if q.breaker.isOpen() {
			return zero, backoff.Permanent(fmt.Errorf("%w: %w", errCircuitOpen, err))
		}
		return zero, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.logger.Warn(ctx, "qdrant operation failed, retrying",
				zap.String("op", op),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return zero, err
	}
	q.breaker.reset()
	return v, nil
}

func (q *QdrantIndex) collectionName(op string, p Partition) (string, error) {
	name, err := CollectionName(q.cfg.CollectionPrefix, p)
	if err != nil {
		return "", newError(op, KindInvalid, err)
	}
	return name, nil
}

// ensureCollection creates name if it is missing, or checks its vector
// width if it exists.
func (q *QdrantIndex) ensureCollection(ctx context.Context, name string) error {
	if _, ok := q.ready.Load(name); ok {
		return nil
	}
	q.createMu.Lock()
	defer q.createMu.Unlock()
	if _, ok := q.ready.Load(name); ok {
		return nil
	}

	exists, err := withRetry(ctx, q, "upsert", func(ctx context.Context) (bool, error) {
		return q.client.CollectionExists(ctx, name)
	})
	if err != nil {
		return err
	}

	if exists {
		info, err := withRetry(ctx, q, "upsert", func(ctx context.Context) (*qdrant.CollectionInfo, error) {
			return q.client.GetCollectionInfo(ctx, name)
		})
		if err != nil {
			return err
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != uint64(q.cfg.Dimension) {
			return newError("upsert", KindDimensionMismatch, &DimensionMismatchError{
				Collection: name,
				Want:       q.cfg.Dimension,
				Got:        int(size),
			})
		}
		q.ready.Store(name, struct{}{})
		return nil
	}

	_, err = withRetry(ctx, q, "upsert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	_, err = withRetry(ctx, q, "upsert", func(ctx context.Context) (*qdrant.UpdateResult, error) {
		return q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      payloadTenant,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
	})
	if err != nil {
		return fmt.Errorf("indexing tenant field on %s: %w", name, err)
	}

	q.logger.Info(ctx, "qdrant collection created",
		zap.String("collection", name),
		zap.Int("dimension", q.cfg.Dimension))
	q.ready.Store(name, struct{}{})
	return nil
}

// pointID derives a stable UUID for a record so a retried batch overwrites
// instead of duplicating.
func pointID(collection, recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(collection+"/"+recordID)).String()
}

func recordPayload(p Partition, r Record) (map[string]*qdrant.Value, error) {
	meta := make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return qdrant.TryValueMap(map[string]any{
		payloadID:        r.ID,
		payloadText:      r.Text,
		payloadSourceTag: r.SourceTag,
		payloadTenant:    p.Tenant,
		payloadMetadata:  meta,
	})
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, p Partition, records []Record) (err error) {
	const op = "upsert"
	start := time.Now()
	defer func() { observe(op, start, err) }()
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert", trace.WithAttributes(
		attribute.String("tenant", p.Tenant),
		attribute.String("generation", p.Generation),
		attribute.Int("record_count", len(records)),
	))
	defer func() { endSpan(span, err) }()

	name, err := q.collectionName(op, p)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if r.ID == "" {
			return newError(op, KindInvalid, fmt.Errorf("record %d has no id", i))
		}
		if err := checkVector(r.Embedding, q.cfg.Dimension); err != nil {
			return newError(op, KindDimensionMismatch, fmt.Errorf("record %s: %w", r.ID, err))
		}
		payload, err := recordPayload(p, r)
		if err != nil {
			return newError(op, KindInvalid, fmt.Errorf("record %s payload: %w", r.ID, err))
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(name, r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: payload,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	if err := q.ensureCollection(ctx, name); err != nil {
		return classify(op, err)
	}
	for lo := 0; lo < len(points); lo += q.cfg.BatchSize {
		batch := points[lo:min(lo+q.cfg.BatchSize, len(points))]
		_, err := withRetry(ctx, q, op, func(ctx context.Context) (*qdrant.UpdateResult, error) {
			return q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           qdrant.PtrOf(true),
				Points:         batch,
			})
		})
		if err != nil {
			return classify(op, fmt.Errorf("upserting into %s: %w", name, err))
		}
	}
	return nil
}

// Query implements Index.
func (q *QdrantIndex) Query(ctx context.Context, p Partition, embedding []float32, k int) (_ []Match, err error) {
	const op = "query"
	start := time.Now()
	defer func() { observe(op, start, err) }()
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query", trace.WithAttributes(
		attribute.String("tenant", p.Tenant),
		attribute.String("generation", p.Generation),
		attribute.Int("k", k),
	))
	defer func() { endSpan(span, err) }()

	name, err := q.collectionName(op, p)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, newError(op, KindInvalid, fmt.Errorf("k must be positive, got %d", k))
	}
	if err := checkVector(embedding, q.cfg.Dimension); err != nil {
		return nil, newError(op, KindDimensionMismatch, err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	points, err := withRetry(ctx, q, op, func(ctx context.Context) ([]*qdrant.ScoredPoint, error) {
		return q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadTenant, p.Tenant)},
			},
		})
	})
	if err != nil {
		if isNotFound(err) {
			return []Match{}, nil
		}
		return nil, classify(op, fmt.Errorf("querying %s: %w", name, err))
	}

	matches := make([]Match, 0, len(points))
	for _, pt := range points {
		payload := pt.GetPayload()
		if payload[payloadTenant].GetStringValue() != p.Tenant {
			continue
		}
		var meta map[string]string
		if fields := payload[payloadMetadata].GetStructValue().GetFields(); len(fields) > 0 {
			meta = make(map[string]string, len(fields))
			for k, v := range fields {
				meta[k] = v.GetStringValue()
			}
		}
		matches = append(matches, Match{
			ID:        payload[payloadID].GetStringValue(),
			Text:      payload[payloadText].GetStringValue(),
			SourceTag: payload[payloadSourceTag].GetStringValue(),
			Score:     pt.GetScore(),
			Metadata:  meta,
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// DropPartition implements Index.
func (q *QdrantIndex) DropPartition(ctx context.Context, p Partition) (err error) {
	const op = "drop"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	name, err := q.collectionName(op, p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	q.ready.Delete(name)
	_, err = withRetry(ctx, q, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.client.DeleteCollection(ctx, name)
	})
	if err != nil && !isNotFound(err) {
		return classify(op, fmt.Errorf("deleting %s: %w", name, err))
	}
	q.logger.Debug(ctx, "partition dropped", zap.String("collection", name))
	return nil
}

// Partitions implements Index.
func (q *QdrantIndex) Partitions(ctx context.Context, tenant string) (_ []Partition, err error) {
	const op = "partitions"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if err := ValidateTenant(tenant); err != nil {
		return nil, newError(op, KindInvalid, err)
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	names, err := withRetry(ctx, q, op, func(ctx context.Context) ([]string, error) {
		return q.client.ListCollections(ctx)
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return tenantPartitions(q.cfg.CollectionPrefix, tenant, names), nil
}

// Dimension implements Index.
func (q *QdrantIndex) Dimension() int {
	return q.cfg.Dimension
}

// Ping runs a Qdrant health check without retries.
func (q *QdrantIndex) Ping(ctx context.Context) (err error) {
	defer func() { recordPing(err) }()
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Ping")
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return newError("ping", KindConnection, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

var _ Index = (*QdrantIndex)(nil)
