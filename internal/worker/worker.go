// Package worker implements the bounded download pool that turns candidates
// into outcomes.
package worker

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/harvest"
	"github.com/JakeFAU/imgharvest/internal/metrics"
	"github.com/JakeFAU/imgharvest/internal/policy/ratelimit"
)

// Defaults applied by New.
const (
	DefaultConcurrency    = 8
	DefaultRequestTimeout = 10 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultGracePeriod    = 5 * time.Second
)

// Config controls Pool behavior.
type Config struct {
	// Concurrency is the maximum number of downloads in flight.
	Concurrency int
	// RequestTimeout bounds each GET.
	RequestTimeout time.Duration
	// WriteTimeout bounds each storage write.
	WriteTimeout time.Duration
	// GracePeriod is how long in-flight downloads may continue after the run
	// context is canceled.
	GracePeriod time.Duration
}

// Pool fetches candidates concurrently and persists them through a Sink.
type Pool struct {
	fetcher harvest.Fetcher
	sink    harvest.Sink
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pool. limiter, m and logger may be nil.
func New(
	fetcher harvest.Fetcher,
	sink harvest.Sink,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		fetcher: fetcher,
		sink:    sink,
		limiter: limiter,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Concurrency reports the configured pool size.
func (p *Pool) Concurrency() int {
	return p.cfg.Concurrency
}

// Run downloads every candidate of term with at most Concurrency downloads in
// flight and emits exactly one outcome per candidate, in completion order. The
// returned channel is closed after the last outcome. The term directory must
// already exist.
//
// Once ctx is canceled no new download starts; remaining candidates are
// reported as skipped and in-flight downloads get GracePeriod to finish.
func (p *Pool) Run(ctx context.Context, term string, candidates iter.Seq[harvest.Candidate]) <-chan harvest.Outcome {
	jobs := make(chan harvest.Candidate)
	out := make(chan harvest.Outcome, p.cfg.Concurrency)
	fetchCtx, cancelFetch := graceContext(ctx, p.cfg.GracePeriod)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				out <- p.process(ctx, fetchCtx, term, c)
			}
		}()
	}

	go func() {
		for c := range candidates {
			jobs <- c
		}
		close(jobs)
		wg.Wait()
		cancelFetch()
		close(out)
	}()
	return out
}

func (p *Pool) process(runCtx, fetchCtx context.Context, term string, c harvest.Candidate) harvest.Outcome {
	if runCtx.Err() != nil {
		return p.observe(harvest.Skipped(term, c, harvest.SkipCanceled))
	}
	if err := CheckURL(c.SourceURL); err != nil {
		p.logger.Debug("skipping unsupported url",
			zap.String("term", term), zap.String("url", c.SourceURL), zap.Error(err))
		return p.observe(harvest.Skipped(term, c, harvest.SkipUnsupportedURL))
	}
	if err := p.limiter.Wait(runCtx, c.SourceURL); err != nil {
		return p.observe(harvest.Skipped(term, c, harvest.SkipCanceled))
	}

	p.metrics.IncInflight()
	defer p.metrics.DecInflight()

	start := time.Now()
	resp, err := p.fetch(fetchCtx, c.SourceURL)
	if err != nil {
		return p.observe(harvest.Failed(term, c, &harvest.DownloadError{
			Kind: harvest.KindTransport,
			URL:  c.SourceURL,
			Err:  err,
		}, time.Since(start)))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return p.observe(harvest.Failed(term, c, &harvest.DownloadError{
			Kind:       harvest.KindHTTPStatus,
			URL:        c.SourceURL,
			StatusCode: resp.StatusCode,
		}, time.Since(start)))
	}
	if len(resp.Body) == 0 {
		return p.observe(harvest.Skipped(term, c, harvest.SkipEmptyBody))
	}

	location, err := p.write(fetchCtx, term, c.ProposedID, resp.Body)
	if err != nil {
		return p.observe(harvest.Failed(term, c, &harvest.DownloadError{
			Kind: harvest.KindStorage,
			URL:  c.SourceURL,
			Err:  err,
		}, time.Since(start)))
	}
	return p.observe(harvest.Success(term, c, len(resp.Body), location, time.Since(start)))
}

func (p *Pool) fetch(ctx context.Context, rawURL string) (harvest.FetchResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	resp, err := p.fetcher.Fetch(reqCtx, rawURL)
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

func (p *Pool) write(ctx context.Context, term, id string, data []byte) (string, error) {
	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	location, err := p.sink.Write(writeCtx, term, id, data)
	if err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return location, nil
}

func (p *Pool) observe(o harvest.Outcome) harvest.Outcome {
	p.metrics.ObserveDownload(o.Term, string(o.Kind), o.Bytes, o.Duration)
	return o
}

// CheckURL reports whether rawURL is an absolute http(s) URL the pool can fetch.
func CheckURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty url: %w", harvest.ErrUnsupportedURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", harvest.ErrUnsupportedURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q: %w", u.Scheme, harvest.ErrUnsupportedURL)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host: %w", harvest.ErrUnsupportedURL)
	}
	return nil
}

// graceContext returns a context that outlives parent by grace: it is canceled
// grace after parent is done, or when the returned cancel is called.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		if grace <= 0 {
			cancel()
			return
		}
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
