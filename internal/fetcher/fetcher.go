// Package fetcher downloads source documents, extracts paragraph text and
// writes it as a flat corpus file.
package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// Config controls HTTP behaviour.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts bounds tries per URI, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestsPerSecond paces requests across all URIs. Zero means unlimited.
	RequestsPerSecond float64
	UserAgent         string
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		RequestsPerSecond: 2,
		UserAgent:         "ragd/1.0 (+https://github.com/fyrsmithlabs/ragd)",
	}
}

// FetchOptions decide whether an existing corpus is reused.
type FetchOptions struct {
	// ForceRefresh always re-downloads.
	ForceRefresh bool
	// MaxAge, when non-zero, refreshes a corpus fetched longer ago than this.
	MaxAge time.Duration
}

// Fetcher produces corpus files from HTML sources.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     Config
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a Fetcher. Zero durations, attempts and user agent take their
// DefaultConfig value; a zero RequestsPerSecond disables pacing.
func New(cfg Config, logger *logging.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  logger.Named("fetcher"),
		now:     time.Now,
	}
}

// Fetch writes the normalized paragraphs of every URI in sourceURIs to
// destination, one paragraph per line. An existing fresh corpus is kept
// as is. URIs are fetched in order and the first failure aborts the run
// without touching destination.
func (f *Fetcher) Fetch(ctx context.Context, sourceURIs []string, destination string, opts FetchOptions) error {
	hash := SourcesHash(sourceURIs)

	fresh, reason, err := f.isFresh(ctx, destination, hash, opts)
	if err != nil {
		return &Error{Kind: KindStorage, URI: destination, Err: err}
	}
	if fresh {
		f.logger.Info(ctx, "corpus is fresh, skipping fetch",
			zap.String("path", destination), zap.String("reason", reason))
		return nil
	}
	f.logger.Info(ctx, "fetching corpus",
		zap.String("path", destination),
		zap.String("reason", reason),
		zap.Int("sources", len(sourceURIs)))

	var paragraphs []string
	for _, uri := range sourceURIs {
		body, err := f.get(ctx, uri)
		if err != nil {
			return err
		}
		found, err := extractParagraphs(body)
		if err != nil {
			return &Error{Kind: KindParse, URI: uri, Err: err}
		}
		f.logger.Debug(ctx, "extracted paragraphs",
			zap.String("uri", uri), zap.Int("paragraphs", len(found)))
		paragraphs = append(paragraphs, found...)
	}

	err = writeFileAtomic(destination, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, p := range paragraphs {
			if _, err := bw.WriteString(p + "\n"); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return &Error{Kind: KindStorage, URI: destination, Err: err}
	}

	m := &Manifest{
		SourcesHash: hash,
		Sources:     sourceURIs,
		FetchedAt:   f.now().UTC(),
		Paragraphs:  len(paragraphs),
	}
	if err := writeManifest(destination, m); err != nil {
		return &Error{Kind: KindStorage, URI: ManifestPath(destination), Err: err}
	}

	f.logger.Info(ctx, "corpus written",
		zap.String("path", destination), zap.Int("paragraphs", len(paragraphs)))
	return nil
}

// isFresh decides whether destination can be reused and says why.
func (f *Fetcher) isFresh(ctx context.Context, destination, hash string, opts FetchOptions) (bool, string, error) {
	if opts.ForceRefresh {
		return false, "force refresh", nil
	}
	if _, err := os.Stat(destination); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, "corpus missing", nil
		}
		return false, "", err
	}

	m, err := ReadManifest(destination)
	if err != nil {
		f.logger.Warn(ctx, "unreadable corpus manifest, refreshing",
			zap.String("path", destination), zap.Error(err))
		return false, "manifest unreadable", nil
	}
	if m == nil {
		return true, "corpus present without manifest", nil
	}
	if m.SourcesHash != hash {
		return false, "sources changed", nil
	}
	if opts.MaxAge > 0 && f.now().Sub(m.FetchedAt) > opts.MaxAge {
		return false, "corpus older than max age", nil
	}
	return true, "manifest matches", nil
}

// get downloads uri, retrying network failures, 429 and 5xx.
func (f *Fetcher) get(ctx context.Context, uri string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.MaxInterval = f.cfg.MaxBackoff

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(&Error{Kind: KindNetwork, URI: uri, Err: err})
		}

		resp, err := f.client.R().SetContext(ctx).Get(uri)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, URI: uri, Err: err}
		}
		if !resp.IsSuccess() {
			ferr := &Error{
				Kind:       KindHTTPStatus,
				URI:        uri,
				StatusCode: resp.StatusCode(),
				Err:        errors.New(http.StatusText(resp.StatusCode())),
			}
			if !ferr.retryable() {
				return nil, backoff.Permanent(ferr)
			}
			return nil, ferr
		}
		return resp.Body(), nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn(ctx, "fetch attempt failed, retrying",
				zap.String("uri", uri),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err == nil {
		return body, nil
	}

	var ferr *Error
	if errors.As(err, &ferr) {
		return nil, ferr
	}
	// context cancellation while waiting between attempts
	return nil, &Error{Kind: KindNetwork, URI: uri, Err: fmt.Errorf("after %d attempts: %w", attempt, err)}
}
