package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/composer"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/fetcher"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const testDim = 64

const washingtonPage = `<html><body>
<p>George Washington was the first President.</p>
<p>The Eiffel Tower is a wrought iron lattice tower in Paris.</p>
<p>Water boils at one hundred degrees Celsius at sea level.</p>
</body></html>`

const washingtonCorpus = "George Washington was the first President.\n" +
	"The Eiffel Tower is a wrought iron lattice tower in Paris.\n" +
	"Water boils at one hundred degrees Celsius at sea level.\n"

// fileFetcher writes a fixed corpus instead of downloading one.
type fileFetcher struct {
	mu      sync.Mutex
	content string
	err     error
	calls   atomic.Int32
	opts    []fetcher.FetchOptions
}

func (f *fileFetcher) Fetch(_ context.Context, _ []string, dest string, opts fetcher.FetchOptions) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(f.content), 0o600)
}

func (f *fileFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// groundedGenerator answers only from the context section of the prompt.
type groundedGenerator struct {
	calls atomic.Int32
}

func (g *groundedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	_, ctxText, _ := strings.Cut(prompt, "Context:")
	if strings.Contains(ctxText, "George Washington") {
		return "George Washington was the first President.", nil
	}
	return "I don't know.", nil
}

// switchableIndex reports the backend as unreachable while down is set.
type switchableIndex struct {
	vectorstore.Index
	down atomic.Bool
}

func (s *switchableIndex) Query(ctx context.Context, p vectorstore.Partition, emb []float32, k int) ([]vectorstore.Match, error) {
	if s.down.Load() {
		return nil, &vectorstore.IndexError{Op: "query", Kind: vectorstore.KindConnection, Err: errors.New("connection refused")}
	}
	return s.Index.Query(ctx, p, emb, k)
}

func (s *switchableIndex) Ping(ctx context.Context) error {
	if s.down.Load() {
		return &vectorstore.IndexError{Op: "ping", Kind: vectorstore.KindConnection, Err: errors.New("connection refused")}
	}
	return s.Index.Ping(ctx)
}

// recordingEmbedder records batch sizes and can fail EmbedDocuments.
type recordingEmbedder struct {
	embeddings.Provider
	mu      sync.Mutex
	batches []int
	err     error
}

func (r *recordingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, len(texts))
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

func newHash(t *testing.T, dim int) *embeddings.Hash {
	t.Helper()
	h, err := embeddings.NewHash(dim)
	require.NoError(t, err)
	return h
}

func newIndex(t *testing.T) *vectorstore.ChromemIndex {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(context.Background(), vectorstore.ChromemConfig{Dimension: testDim}, nil)
	require.NoError(t, err)
	return idx
}

func testConfig(t *testing.T, sources ...string) Config {
	t.Helper()
	if len(sources) == 0 {
		sources = []string{"https://example.com/corpus"}
	}
	return Config{
		Tenant:     "acme",
		Sources:    sources,
		CorpusPath: filepath.Join(t.TempDir(), "data", "corpus.txt"),
		ChunkSize:  100,
		TopK:       5,
		Composer: composer.Config{
			MaxSentences:   3,
			Timeout:        time.Second,
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
		},
		BatchSize:     32,
		Workers:       4,
		HealthTimeout: time.Second,
		Version:       "test",
	}
}

func testDeps(t *testing.T, f Fetcher) (Dependencies, *groundedGenerator) {
	t.Helper()
	gen := &groundedGenerator{}
	return Dependencies{
		Fetcher:   f,
		Embedder:  newHash(t, testDim),
		Index:     newIndex(t),
		Generator: gen,
		Logger:    logging.NewNop(),
	}, gen
}

func initialize(t *testing.T, cfg Config, deps Dependencies) *Pipeline {
	t.Helper()
	p, err := Initialize(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestScenario_GroundedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(washingtonPage))
	}))
	t.Cleanup(srv.Close)

	f := fetcher.New(fetcher.Config{MaxAttempts: 1, InitialBackoff: time.Millisecond}, nil)
	deps, gen := testDeps(t, f)
	p := initialize(t, testConfig(t, srv.URL), deps)

	ans, err := p.Ask(context.Background(), "Who was the first President?", "history quiz")
	require.NoError(t, err)

	assert.Contains(t, ans.AnswerText, "George Washington")
	assert.NotEmpty(t, ans.Context)
	assert.Contains(t, ans.Context, "George Washington")
	assert.Equal(t, "Who was the first President?", ans.Question)
	assert.Equal(t, "history quiz", ans.ContextHint)
	assert.NotEmpty(t, ans.Sources)
	assert.Equal(t, int32(1), gen.calls.Load())

	part, ok := p.Generation()
	require.True(t, ok)
	assert.Equal(t, part.Generation, ans.Generation)

	for i := 1; i < len(ans.Sources); i++ {
		assert.GreaterOrEqual(t, ans.Sources[i-1].Score, ans.Sources[i].Score)
	}
}

func TestScenario_EmptyCorpus(t *testing.T) {
	deps, gen := testDeps(t, &fileFetcher{content: ""})
	p := initialize(t, testConfig(t), deps)

	ans, err := p.Ask(context.Background(), "Who was the first President?", "")
	require.NoError(t, err)

	assert.Equal(t, composer.InsufficientContextAnswer, ans.AnswerText)
	assert.Empty(t, ans.Context)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, gen.calls.Load())
}

func TestScenario_UnreachableSource(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := fetcher.New(fetcher.Config{MaxAttempts: 1, Timeout: time.Second}, nil)
	deps, _ := testDeps(t, f)

	p, err := Initialize(context.Background(), testConfig(t, url), deps)
	require.Error(t, err)
	assert.Nil(t, p)

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageFetch, ie.Stage)
	assert.ErrorIs(t, err, fetcher.ErrNetwork)
}

func TestScenario_IndexDown(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	idx := &switchableIndex{Index: deps.Index}
	deps.Index = idx
	p := initialize(t, testConfig(t), deps)

	idx.down.Store(true)

	_, err := p.Ask(context.Background(), "Who was the first President?", "")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, OriginRetrieval, pe.Origin)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, vectorstore.ErrConnection)

	hs := p.Health(context.Background())
	assert.False(t, hs.VectorIndexReachable)
	assert.True(t, hs.EmbeddingProviderReachable)
	assert.Equal(t, StatusDegraded, hs.Status)
	assert.Equal(t, ServiceOffline, hs.Services[ServiceVectorIndex])
	assert.Equal(t, ServiceOnline, hs.Services[ServiceEmbeddings])
}

func TestAsk_EmptyQuestion(t *testing.T) {
	deps, gen := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)

	for _, q := range []string{"", "   "} {
		_, err := p.Ask(context.Background(), q, "")
		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, OriginRequest, pe.Origin)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
	assert.Zero(t, gen.calls.Load())
}

func TestAsk_GenerationFailure(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	deps.Generator = composer.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", &composer.Error{Kind: composer.KindModelUnavailable, Err: errors.New("503")}
	})
	p := initialize(t, testConfig(t), deps)

	_, err := p.Ask(context.Background(), "Who was the first President?", "")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, OriginGeneration, pe.Origin)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, composer.ErrModelUnavailable)
}

func TestAsk_Metrics(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)

	answered := testutil.ToFloat64(AsksTotal.WithLabelValues("answered"))
	requestErrs := testutil.ToFloat64(AsksTotal.WithLabelValues("request_error"))

	_, err := p.Ask(context.Background(), "Who was the first President?", "")
	require.NoError(t, err)
	_, _ = p.Ask(context.Background(), "", "")

	assert.Equal(t, answered+1, testutil.ToFloat64(AsksTotal.WithLabelValues("answered")))
	assert.Equal(t, requestErrs+1, testutil.ToFloat64(AsksTotal.WithLabelValues("request_error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(IndexedChunks))
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config, *Dependencies)
		stage Stage
	}{
		{"bad tenant", func(c *Config, _ *Dependencies) { c.Tenant = "Bad Tenant" }, StageConfig},
		{"no sources", func(c *Config, _ *Dependencies) { c.Sources = nil }, StageConfig},
		{"no corpus path", func(c *Config, _ *Dependencies) { c.CorpusPath = "" }, StageConfig},
		{"missing generator", func(_ *Config, d *Dependencies) { d.Generator = nil }, StageConfig},
		{"overlap too large", func(c *Config, _ *Dependencies) { c.ChunkOverlap = 100 }, StageChunk},
		{"dimension mismatch", func(_ *Config, d *Dependencies) { d.Embedder = newHash(t, 32) }, StageSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fileFetcher{content: washingtonCorpus}
			cfg := testConfig(t)
			deps, _ := testDeps(t, f)
			tt.mut(&cfg, &deps)

			p, err := Initialize(context.Background(), cfg, deps)
			assert.Nil(t, p)
			var ie *InitError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.stage, ie.Stage)
			assert.Zero(t, f.calls.Load(), "nothing is fetched before the checks pass")
		})
	}
}

func TestInitialize_DimensionMismatchIsTyped(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	deps.Embedder = newHash(t, 16)

	_, err := Initialize(context.Background(), testConfig(t), deps)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestInitialize_EmbedFailureDropsGeneration(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	emb := &recordingEmbedder{Provider: deps.Embedder, err: embeddings.ErrEmbeddingFailed}
	deps.Embedder = emb

	p, err := Initialize(context.Background(), testConfig(t), deps)
	assert.Nil(t, p)
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageEmbed, ie.Stage)
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)

	parts, err := deps.Index.Partitions(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestInitialize_LoadFailure(t *testing.T) {
	// A fetcher that reports success without writing anything.
	deps, _ := testDeps(t, fetchFunc(func() error { return nil }))

	_, err := Initialize(context.Background(), testConfig(t), deps)
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageLoad, ie.Stage)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fetchFunc func() error

func (f fetchFunc) Fetch(context.Context, []string, string, fetcher.FetchOptions) error {
	return f()
}

func TestInitialize_BatchesChunks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Sentence number with some filler words to pad it out.\n")
	}
	deps, _ := testDeps(t, &fileFetcher{content: b.String()})
	emb := &recordingEmbedder{Provider: deps.Embedder}
	deps.Embedder = emb

	cfg := testConfig(t)
	cfg.BatchSize = 3
	cfg.Workers = 2
	p := initialize(t, cfg, deps)

	hs := p.Health(context.Background())
	total := 0
	for _, n := range emb.batches {
		assert.LessOrEqual(t, n, 3)
		total += n
	}
	assert.Equal(t, hs.IndexedChunks, total)
	assert.Greater(t, len(emb.batches), 1)
}

func TestInitialize_PrunesStaleGenerations(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	stale := vectorstore.Partition{Tenant: "acme", Generation: vectorstore.NewGeneration()}
	vec, err := deps.Embedder.EmbedQuery(context.Background(), "old")
	require.NoError(t, err)
	require.NoError(t, deps.Index.Upsert(context.Background(), stale, []vectorstore.Record{{ID: "old", Text: "old", Embedding: vec}}))

	p := initialize(t, testConfig(t), deps)

	current, ok := p.Generation()
	require.True(t, ok)
	parts, err := deps.Index.Partitions(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.Partition{current}, parts)
}

func TestRebuild_SwapsAndKeepsPrevious(t *testing.T) {
	f := &fileFetcher{content: washingtonCorpus}
	deps, _ := testDeps(t, f)
	p := initialize(t, testConfig(t), deps)
	first, _ := p.Generation()

	res, err := p.Rebuild(context.Background(), RebuildOptions{ForceRefresh: true})
	require.NoError(t, err)
	second, _ := p.Generation()
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, res.Partition)
	assert.Equal(t, 3, res.Chunks)

	_, err = p.Rebuild(context.Background(), RebuildOptions{})
	require.NoError(t, err)
	third, _ := p.Generation()

	parts, err := deps.Index.Partitions(context.Background(), "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []vectorstore.Partition{second, third}, parts)

	require.Len(t, f.opts, 3)
	assert.True(t, f.opts[1].ForceRefresh)
	assert.False(t, f.opts[2].ForceRefresh)
}

func TestRebuild_FailureKeepsPublished(t *testing.T) {
	f := &fileFetcher{content: washingtonCorpus}
	deps, _ := testDeps(t, f)
	p := initialize(t, testConfig(t), deps)
	before, _ := p.Generation()

	f.fail(&fetcher.Error{Kind: fetcher.KindNetwork, URI: "https://example.com", Err: errors.New("down")})
	_, err := p.Rebuild(context.Background(), RebuildOptions{ForceRefresh: true})
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageFetch, ie.Stage)

	after, _ := p.Generation()
	assert.Equal(t, before, after)

	ans, err := p.Ask(context.Background(), "Who was the first President?", "")
	require.NoError(t, err)
	assert.Contains(t, ans.AnswerText, "George Washington")
}

func TestRebuild_CancelledDoesNotPublish(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)
	before, _ := p.Generation()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Rebuild(ctx, RebuildOptions{})
	require.Error(t, err)

	after, _ := p.Generation()
	assert.Equal(t, before, after)
}

func TestAsk_ConcurrentWithRebuild(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				ans, err := p.Ask(context.Background(), "Who was the first President?", "")
				if err != nil {
					errs <- err
					return
				}
				if ans.AnswerText == "" {
					errs <- errors.New("empty answer")
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := p.Rebuild(context.Background(), RebuildOptions{})
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTryRebuild_InProgress(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)

	p.buildMu.Lock()
	_, err := p.TryRebuild(context.Background(), RebuildOptions{})
	p.buildMu.Unlock()
	assert.ErrorIs(t, err, ErrBuildInProgress)

	_, err = p.TryRebuild(context.Background(), RebuildOptions{})
	assert.NoError(t, err)
}

func TestHealth_Online(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)

	hs := p.Health(context.Background())
	assert.True(t, hs.EmbeddingProviderReachable)
	assert.True(t, hs.VectorIndexReachable)
	assert.Equal(t, StatusOnline, hs.Status)
	assert.Equal(t, "test", hs.Version)
	assert.Equal(t, 3, hs.IndexedChunks)
	assert.NotEmpty(t, hs.Generation)
	assert.WithinDuration(t, time.Now(), hs.CheckedAt, time.Minute)
}

func TestClose(t *testing.T) {
	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p, err := Initialize(context.Background(), testConfig(t), deps)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Ask(context.Background(), "Who was the first President?", "")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.Rebuild(context.Background(), RebuildOptions{})
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, StatusDegraded, p.Health(context.Background()).Status)
}

func TestSourceTag(t *testing.T) {
	assert.Equal(t, "3f2a9c01-7", SourceTag("3f2a9c01deadbeef", 7))
	assert.Equal(t, "abc-0", SourceTag("abc", 0))
}

func TestServiceStatus(t *testing.T) {
	assert.Equal(t, ServiceOnline, serviceStatus(nil, embeddings.ErrUnreachable))
	assert.Equal(t, ServiceOffline, serviceStatus(embeddings.ErrUnreachable, embeddings.ErrUnreachable))
	assert.Equal(t, ServiceOffline, serviceStatus(context.DeadlineExceeded, embeddings.ErrUnreachable))
	assert.Equal(t, ServiceError, serviceStatus(errors.New("boom"), embeddings.ErrUnreachable))
}

func TestProbe_WithoutPipeline(t *testing.T) {
	idx := &switchableIndex{Index: newIndex(t)}
	emb := newHash(t, testDim)

	hs := Probe(context.Background(), emb, idx, 0)
	assert.Equal(t, StatusOnline, hs.Status)
	assert.Empty(t, hs.Generation)

	idx.down.Store(true)
	hs = Probe(context.Background(), emb, idx, time.Second)
	assert.Equal(t, StatusDegraded, hs.Status)
	assert.False(t, hs.VectorIndexReachable)
	assert.True(t, hs.EmbeddingProviderReachable)
	assert.Equal(t, ServiceOnline, hs.Services[ServiceEmbeddings])
	assert.Equal(t, ServiceOffline, hs.Services[ServiceVectorIndex])
}

func TestHealthStatus_BuiltAtOnlyWhenPublished(t *testing.T) {
	hs := Probe(context.Background(), newHash(t, testDim), newIndex(t), time.Second)
	assert.Nil(t, hs.BuiltAt)
	raw, err := json.Marshal(hs)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "built_at")

	deps, _ := testDeps(t, &fileFetcher{content: washingtonCorpus})
	p := initialize(t, testConfig(t), deps)
	hs = p.Health(context.Background())
	require.NotNil(t, hs.BuiltAt)
	assert.WithinDuration(t, time.Now(), *hs.BuiltAt, time.Minute)
	raw, err = json.Marshal(hs)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"built_at"`)
}
