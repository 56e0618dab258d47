// Package pipeline wires fetching, chunking, embedding and indexing into a
// one-time build, and retrieval plus answer composition into Ask.
//
// A build writes a fresh index generation and publishes it through an
// atomic pointer only when every stage succeeded. Ask always reads the
// published generation, so a Rebuild never disturbs questions in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/composer"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/fetcher"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/pipeline")

// Config holds everything a build and Ask need besides the providers.
type Config struct {
	Tenant  string
	Sources []string

	CorpusPath   string
	ForceRefresh bool
	MaxAge       time.Duration

	ChunkSize    int
	ChunkOverlap int

	TopK             int
	RetrievalTimeout time.Duration

	Composer composer.Config

	// BatchSize is the number of chunks embedded and upserted together.
	BatchSize int
	// Workers bounds concurrent batches.
	Workers int

	// HealthTimeout bounds Health. Zero means 5s.
	HealthTimeout time.Duration

	Version string
}

// ConfigFrom maps the application config.
func ConfigFrom(c *config.Config, version string) Config {
	return Config{
		Tenant:           c.Tenant,
		Sources:          c.Sources,
		CorpusPath:       c.Corpus.Path,
		ForceRefresh:     c.Corpus.ForceRefresh,
		MaxAge:           c.Corpus.MaxAge,
		ChunkSize:        c.Chunking.MaxSize,
		ChunkOverlap:     c.Chunking.Overlap,
		TopK:             c.Retrieval.TopK,
		RetrievalTimeout: c.Retrieval.Timeout,
		Composer:         composer.ConfigFrom(c.Generation),
		BatchSize:        c.Ingest.BatchSize,
		Workers:          c.Ingest.Workers,
		Version:          version,
	}
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = retriever.DefaultK
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

func (c *Config) validate() error {
	if err := vectorstore.ValidateTenant(c.Tenant); err != nil {
		return err
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one source is required")
	}
	if strings.TrimSpace(c.CorpusPath) == "" {
		return errors.New("corpus path is required")
	}
	return nil
}

// Fetcher writes the corpus file. *fetcher.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURIs []string, destination string, opts fetcher.FetchOptions) error
}

// Dependencies are the external collaborators, built by the composition
// root. Tests substitute doubles here.
type Dependencies struct {
	Fetcher   Fetcher
	Embedder  embeddings.Provider
	Index     vectorstore.Index
	Generator composer.Generator
	Logger    *logging.Logger
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if d.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if d.Index == nil {
		missing = append(missing, "index")
	}
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// generation is one published build.
type generation struct {
	partition vectorstore.Partition
	chunks    int
	builtAt   time.Time
}

// Source is a retrieved chunk cited by an Answer.
type Source struct {
	Tag   string  `json:"tag"`
	Score float32 `json:"score"`
}

// Answer is the result of Ask.
type Answer struct {
	Question    string   `json:"question"`
	ContextHint string   `json:"context_hint,omitempty"`
	Context     string   `json:"context"`
	AnswerText  string   `json:"answer"`
	Sources     []Source `json:"sources"`
	Generation  string   `json:"generation"`
}

// Pipeline serves questions against the published index generation.
type Pipeline struct {
	cfg       Config
	deps      Dependencies
	splitter  *chunker.Splitter
	retriever *retriever.Retriever
	composer  *composer.Composer
	logger    *logging.Logger

	current atomic.Pointer[generation]
	closed  atomic.Bool

	buildMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Initialize checks the configuration and dependencies, runs the first
// build and publishes it. No pipeline is returned unless every stage
// succeeded; the error is always an *InitError.
func Initialize(ctx context.Context, cfg Config, deps Dependencies) (*Pipeline, error) {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("pipeline")
	deps.Logger = logger

	if err := cfg.validate(); err != nil {
		return nil, &InitError{Stage: StageConfig, Err: err}
	}
	if err := deps.validate(); err != nil {
		return nil, &InitError{Stage: StageConfig, Err: err}
	}
	comp, err := composer.New(deps.Generator, cfg.Composer, logger)
	if err != nil {
		return nil, &InitError{Stage: StageConfig, Err: err}
	}
	splitter, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, &InitError{Stage: StageChunk, Err: err}
	}

	if err := checkSchema(ctx, deps, cfg.HealthTimeout); err != nil {
		return nil, &InitError{Stage: StageSchema, Err: err}
	}

	p := &Pipeline{
		cfg:       cfg,
		deps:      deps,
		splitter:  splitter,
		retriever: retriever.New(deps.Embedder, deps.Index, logger),
		composer:  comp,
		logger:    logger,
	}

	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	gen, err := p.build(ctx, cfg.ForceRefresh)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, gen, false)

	logger.Info(ctx, "pipeline ready",
		zap.String("tenant", cfg.Tenant),
		zap.String("generation", gen.partition.Generation),
		zap.Int("chunks", gen.chunks))
	return p, nil
}

// checkSchema verifies both providers answer and agree on the vector width.
func checkSchema(ctx context.Context, deps Dependencies, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := deps.Embedder.Ping(pingCtx); err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	if err := deps.Index.Ping(pingCtx); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	if want, got := deps.Index.Dimension(), deps.Embedder.Dimension(); want != got {
		return &vectorstore.DimensionMismatchError{Want: want, Got: got}
	}
	return nil
}

// Generation returns the published partition and whether one exists.
func (p *Pipeline) Generation() (vectorstore.Partition, bool) {
	gen := p.current.Load()
	if gen == nil {
		return vectorstore.Partition{}, false
	}
	return gen.partition, true
}

// Ask retrieves context for question from the published generation and
// composes an answer from it. contextHint is echoed back unchanged.
//
// Errors are *Error tagged with their origin.
func (p *Pipeline) Ask(ctx context.Context, question, contextHint string) (_ *Answer, err error) {
	start := time.Now()
	insufficient := false
	defer func() {
		AskDuration.Observe(time.Since(start).Seconds())
		AsksTotal.WithLabelValues(askOutcome(err, insufficient)).Inc()
	}()

	ctx = logging.WithRequestID(ctx, uuid.NewString())
	ctx, span := tracer.Start(ctx, "Pipeline.Ask")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &Error{Origin: OriginRequest, Err: ErrEmptyQuestion}
	}
	if p.closed.Load() {
		return nil, &Error{Origin: OriginRequest, Err: ErrClosed}
	}
	gen := p.current.Load()
	if gen == nil {
		return nil, &Error{Origin: OriginRequest, Err: ErrNotReady}
	}

	ctx = logging.WithTenant(ctx, gen.partition.Tenant)
	ctx = logging.WithGeneration(ctx, gen.partition.Generation)
	span.SetAttributes(
		attribute.String("tenant", gen.partition.Tenant),
		attribute.String("generation", gen.partition.Generation),
	)

	rctx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalTimeout)
	res, err := p.retriever.Retrieve(rctx, gen.partition, question, p.cfg.TopK)
	cancel()
	if err != nil {
		p.logger.Warn(ctx, "retrieval failed", zap.Error(err))
		return nil, &Error{Origin: OriginRetrieval, Err: err}
	}

	retrieved := res.Context()
	insufficient = strings.TrimSpace(retrieved) == ""

	text, err := p.composer.Compose(ctx, question, retrieved)
	if err != nil {
		p.logger.Warn(ctx, "generation failed", zap.Error(err))
		return nil, &Error{Origin: OriginGeneration, Err: err}
	}

	sources := make([]Source, len(res.Chunks))
	for i, c := range res.Chunks {
		sources[i] = Source{Tag: c.SourceTag, Score: c.Score}
	}
	span.SetAttributes(attribute.Int("sources", len(sources)))
	p.logger.Info(ctx, "answered question",
		zap.Int("sources", len(sources)),
		zap.Bool("insufficient_context", insufficient),
		zap.Duration("took", time.Since(start)))

	return &Answer{
		Question:    question,
		ContextHint: contextHint,
		Context:     retrieved,
		AnswerText:  text,
		Sources:     sources,
		Generation:  gen.partition.Generation,
	}, nil
}

// Close releases the embedder and the index. Ask fails with ErrClosed
// afterwards.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = errors.Join(p.deps.Embedder.Close(), p.deps.Index.Close())
	})
	return p.closeErr
}
