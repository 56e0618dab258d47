package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/fetcher"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// sourceTagPrefixLen is how much of the document ID prefixes a source tag.
const sourceTagPrefixLen = 8

// cleanupTimeout bounds dropping a half-written or superseded generation.
const cleanupTimeout = 30 * time.Second

// RebuildOptions control a Rebuild.
type RebuildOptions struct {
	// ForceRefresh re-downloads the sources even if the corpus is fresh.
	ForceRefresh bool
}

// RebuildResult describes a published generation.
type RebuildResult struct {
	Partition vectorstore.Partition
	Chunks    int
	Took      time.Duration
}

// Rebuild builds a new generation while Ask keeps serving the current one,
// then swaps it in. Builds are serialized. On failure the previous
// generation stays published and the error is an *InitError.
func (p *Pipeline) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	return p.rebuildLocked(ctx, opts)
}

// TryRebuild is Rebuild that returns ErrBuildInProgress instead of waiting.
func (p *Pipeline) TryRebuild(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	if !p.buildMu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer p.buildMu.Unlock()
	return p.rebuildLocked(ctx, opts)
}

func (p *Pipeline) rebuildLocked(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	if p.closed.Load() {
		return nil, &InitError{Stage: StageConfig, Err: ErrClosed}
	}
	start := time.Now()
	gen, err := p.build(ctx, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}
	// Keep the generation being replaced for questions still reading it.
	p.publish(ctx, gen, true)
	return &RebuildResult{Partition: gen.partition, Chunks: gen.chunks, Took: time.Since(start)}, nil
}

// build runs every stage into a fresh generation without publishing it.
// A failure after the generation was created drops what was written.
func (p *Pipeline) build(ctx context.Context, forceRefresh bool) (_ *generation, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Pipeline.Build")
	defer span.End()
	defer func() {
		BuildsTotal.WithLabelValues(buildResult(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	part := vectorstore.Partition{Tenant: p.cfg.Tenant, Generation: vectorstore.NewGeneration()}
	ctx = logging.WithTenant(ctx, part.Tenant)
	ctx = logging.WithGeneration(ctx, part.Generation)
	span.SetAttributes(
		attribute.String("tenant", part.Tenant),
		attribute.String("generation", part.Generation),
		attribute.Bool("force_refresh", forceRefresh),
	)

	err = p.deps.Fetcher.Fetch(ctx, p.cfg.Sources, p.cfg.CorpusPath, fetcher.FetchOptions{
		ForceRefresh: forceRefresh,
		MaxAge:       p.cfg.MaxAge,
	})
	if err != nil {
		return nil, &InitError{Stage: StageFetch, Err: err}
	}

	raw, err := os.ReadFile(p.cfg.CorpusPath)
	if err != nil {
		return nil, &InitError{Stage: StageLoad, Err: fmt.Errorf("reading corpus: %w", err)}
	}
	doc := chunker.NewDocument(p.cfg.CorpusPath, string(raw))

	chunks := p.splitter.Collect(doc)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	p.logger.Info(ctx, "corpus chunked",
		zap.String("document_id", doc.ID),
		zap.Int("bytes", len(raw)),
		zap.Int("chunks", len(chunks)))

	if err := p.index(ctx, part, doc, chunks); err != nil {
		p.dropQuietly(ctx, part)
		return nil, err
	}

	// A build cancelled after indexing must not replace a good generation.
	if err := ctx.Err(); err != nil {
		p.dropQuietly(ctx, part)
		return nil, &InitError{Stage: StagePublish, Err: err}
	}

	p.logger.Info(ctx, "generation built",
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return &generation{
		partition: part,
		chunks:    len(chunks),
		builtAt:   time.Now().UTC(),
	}, nil
}

// index embeds and upserts chunks in batches on a bounded worker pool. The
// first failing batch cancels the others.
func (p *Pipeline) index(ctx context.Context, part vectorstore.Partition, doc chunker.Document, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		batch := chunks[lo:min(lo+p.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &InitError{Stage: StageEmbed, Err: err}
			}
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vecs, err := p.deps.Embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return &InitError{Stage: StageEmbed, Err: err}
			}
			if len(vecs) != len(batch) {
				return &InitError{Stage: StageEmbed, Err: fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(batch))}
			}

			records := make([]vectorstore.Record, len(batch))
			for i, c := range batch {
				records[i] = newRecord(doc, c, vecs[i])
			}
			if err := p.deps.Index.Upsert(gctx, part, records); err != nil {
				return &InitError{Stage: StageIndex, Err: err}
			}
			p.logger.Trace(gctx, "indexed batch",
				zap.Int("first_chunk", batch[0].Index),
				zap.Int("size", len(batch)))
			return nil
		})
	}
	return g.Wait()
}

func newRecord(doc chunker.Document, c chunker.Chunk, vec []float32) vectorstore.Record {
	seq := strconv.Itoa(c.Index)
	return vectorstore.Record{
		ID:        doc.ID[:16] + ":" + seq,
		Text:      c.Text,
		Embedding: vec,
		SourceTag: SourceTag(doc.ID, c.Index),
		Metadata: map[string]string{
			"document_id": doc.ID,
			"source_uri":  doc.SourceURI,
			"chunk_index": seq,
			"start":       strconv.Itoa(c.Start),
			"end":         strconv.Itoa(c.End),
		},
	}
}

// SourceTag names a chunk in answers: the document ID prefix and the chunk
// sequence number, e.g. "3f2a9c01-7".
func SourceTag(documentID string, seq int) string {
	prefix := documentID
	if len(prefix) > sourceTagPrefixLen {
		prefix = prefix[:sourceTagPrefixLen]
	}
	return prefix + "-" + strconv.Itoa(seq)
}

// publish swaps gen in and prunes the tenant's other generations. With
// keepPrevious the generation just replaced survives until the next build.
// Pruning failures are logged only.
func (p *Pipeline) publish(ctx context.Context, gen *generation, keepPrevious bool) {
	prev := p.current.Swap(gen)
	IndexedChunks.Set(float64(gen.chunks))

	fields := []zap.Field{
		zap.String("generation", gen.partition.Generation),
		zap.Int("chunks", gen.chunks),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.partition.Generation))
	}
	p.logger.Info(ctx, "generation published", fields...)

	p.prune(ctx, gen, prev, keepPrevious)
}

func (p *Pipeline) prune(ctx context.Context, gen, prev *generation, keepPrevious bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	parts, err := p.deps.Index.Partitions(cctx, p.cfg.Tenant)
	if err != nil {
		p.logger.Warn(ctx, "listing generations for pruning failed", zap.Error(err))
		return
	}
	for _, part := range parts {
		if part == gen.partition {
			continue
		}
		if keepPrevious && prev != nil && part == prev.partition {
			continue
		}
		if err := p.deps.Index.DropPartition(cctx, part); err != nil {
			p.logger.Warn(ctx, "pruning generation failed",
				zap.String("pruned", part.Generation), zap.Error(err))
			continue
		}
		p.logger.Debug(ctx, "pruned generation", zap.String("pruned", part.Generation))
	}
}

func (p *Pipeline) dropQuietly(ctx context.Context, part vectorstore.Partition) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.deps.Index.DropPartition(cctx, part); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn(ctx, "dropping unfinished generation failed", zap.Error(err))
	}
}
