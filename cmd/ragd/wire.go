package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/composer"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/fetcher"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// errConfig marks failures to load or apply configuration.
var errConfig = errors.New("configuration error")

// app is the composition root shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	metrics *http.Server

	embedder embeddings.Provider
	index    vectorstore.Index
	pipeline *pipeline.Pipeline
}

// newApp loads configuration and starts logging, telemetry and the metrics
// endpoint. Providers are opened separately by openProviders.
func newApp(ctx context.Context, opts *rootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	if opts.logLevel != "" {
		lvl, err := logging.LevelFromString(opts.logLevel)
		if err != nil {
			_ = tel.Shutdown(context.Background())
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}
		logCfg.Level = lvl
	}
	logCfg.Output.Writer = stderr
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: logging: %v", errConfig, err)
	}

	a := &app{cfg: cfg, logger: logger, tel: tel}

	if opts.metricsAddr != "" {
		if err := a.serveMetrics(ctx, opts.metricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info(ctx, "serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// openProviders connects the embedding provider and the vector index.
func (a *app) openProviders(ctx context.Context) error {
	emb, err := embeddings.NewProvider(embeddings.FromConfig(a.cfg.Embeddings), a.logger.Named("embeddings"))
	if err != nil {
		return &pipeline.InitError{Stage: pipeline.StageConfig, Err: err}
	}
	idx, err := vectorstore.NewIndex(ctx, a.cfg.VectorStore, emb.Dimension(), a.logger.Named("vectorstore"))
	if err != nil {
		_ = emb.Close()
		return &pipeline.InitError{Stage: pipeline.StageSchema, Err: err}
	}
	a.embedder, a.index = emb, idx
	return nil
}

// initialize opens the providers and runs the first build.
func (a *app) initialize(ctx context.Context) (*pipeline.Pipeline, error) {
	if err := a.openProviders(ctx); err != nil {
		return nil, err
	}
	gen, err := composer.NewLLMGenerator(composer.GeneratorConfigFrom(a.cfg.Generation))
	if err != nil {
		return nil, &pipeline.InitError{Stage: pipeline.StageConfig, Err: err}
	}

	f := a.cfg.Fetch
	deps := pipeline.Dependencies{
		Fetcher: fetcher.New(fetcher.Config{
			Timeout:           f.Timeout,
			MaxAttempts:       f.MaxAttempts,
			InitialBackoff:    f.InitialBackoff,
			MaxBackoff:        f.MaxBackoff,
			RequestsPerSecond: f.RequestsPerSecond,
			UserAgent:         f.UserAgent,
		}, a.logger.Named("fetcher")),
		Embedder:  a.embedder,
		Index:     a.index,
		Generator: gen,
		Logger:    a.logger,
	}
	p, err := pipeline.Initialize(ctx, pipeline.ConfigFrom(a.cfg, version), deps)
	if err != nil {
		return nil, err
	}
	a.pipeline = p
	return p, nil
}

// Close stops everything newApp, openProviders and initialize started.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case a.pipeline != nil:
		err = a.pipeline.Close()
	case a.embedder != nil:
		err = errors.Join(a.embedder.Close(), a.index.Close())
	}
	if err != nil {
		a.logger.Warn(ctx, "closing providers", zap.Error(err))
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
