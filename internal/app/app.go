// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/imgharvest/internal/config"
	"github.com/JakeFAU/imgharvest/internal/discovery/feed"
	"github.com/JakeFAU/imgharvest/internal/discovery/fixture"
	"github.com/JakeFAU/imgharvest/internal/discovery/headless"
	"github.com/JakeFAU/imgharvest/internal/discovery/static"
	collyfetcher "github.com/JakeFAU/imgharvest/internal/fetcher/colly"
	"github.com/JakeFAU/imgharvest/internal/harvest"
	"github.com/JakeFAU/imgharvest/internal/id/uuid"
	"github.com/JakeFAU/imgharvest/internal/metrics"
	"github.com/JakeFAU/imgharvest/internal/orchestrator"
	"github.com/JakeFAU/imgharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/imgharvest/internal/publisher"
	"github.com/JakeFAU/imgharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/imgharvest/internal/storage/gcs"
	"github.com/JakeFAU/imgharvest/internal/storage/local"
	"github.com/JakeFAU/imgharvest/internal/storage/memory"
	"github.com/JakeFAU/imgharvest/internal/storage/postgres"
	"github.com/JakeFAU/imgharvest/internal/worker"
)

// App holds all the shared, long-lived services for one harvest run.
// It is built once at startup and closed by the CLI after command execution
// returns, whether or not the command failed.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	runID        string
	userAgent    string
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	sink         harvest.Sink
	discoverer   harvest.Discoverer
	pool         *worker.Pool
	orchestrator *orchestrator.Orchestrator

	closeOnce sync.Once
	closers   []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes how New builds cloud clients.
type Option func(*options)

type options struct {
	storageOpts []option.ClientOption
	pubsubOpts  []option.ClientOption
}

// WithStorageOptions passes client options to the GCS client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.storageOpts = append(o.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// New creates and initializes an App from cfg. It fails fast if any
// configured service cannot be initialized, releasing whatever it already
// built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, runID: uuid.New().MustNewID()}
	if err := a.init(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("run_id", a.runID),
		zap.String("provider", cfg.Discovery.Provider),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("concurrency", a.pool.Concurrency()),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg := a.cfg

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.metrics = m

	a.userAgent = cfg.HTTP.UserAgent
	if a.userAgent == "" {
		a.userAgent = collyfetcher.SpoofedUserAgent(nil)
	}

	sink, err := a.buildSink(ctx, o)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.sink = sink

	discoverer, err := a.buildDiscoverer()
	if err != nil {
		return fmt.Errorf("failed to initialize discovery: %w", err)
	}
	a.discoverer = discoverer

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.userAgent,
		Timeout:     cfg.RequestTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{
		RPS:     cfg.HTTP.RateLimitRPS,
		Burst:   cfg.HTTP.RateLimitBurst,
		OnDelay: m.ObserveRateLimitDelay,
	})
	a.pool = worker.New(fetcher, sink, limiter, m, worker.Config{
		Concurrency:    cfg.Worker.Concurrency,
		RequestTimeout: cfg.RequestTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		GracePeriod:    cfg.GracePeriod(),
	}, a.logger.Named("worker"))

	recorders, err := a.buildRecorders(ctx, o)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Discoverer: discoverer,
		Sink:       sink,
		Downloader: a.pool,
		IDs:        uuid.New(),
		Recorders:  recorders,
		Metrics:    m,
		Logger:     a.logger.Named("orchestrator"),
	}, orchestrator.Config{
		DiscoveryRetries: cfg.Discovery.Retries,
		RetryBackoff:     cfg.RetryBackoff(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	a.orchestrator = orch
	return nil
}

func (a *App) buildSink(ctx context.Context, o options) (harvest.Sink, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendLocal:
		a.logger.Info("using local storage", zap.String("base_dir", cfg.BaseDir))
		return local.New(local.Config{BaseDir: cfg.BaseDir})
	case config.BackendGCS:
		a.logger.Info("using GCS storage", zap.String("bucket", cfg.GCSBucket), zap.String("prefix", cfg.Prefix))
		client, err := storage.NewClient(ctx, o.storageOpts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.addCloser("storage client", client.Close)
		return gcs.New(client, gcs.Config{
			Bucket:      cfg.GCSBucket,
			Prefix:      cfg.Prefix,
			ContentType: cfg.ContentType,
		})
	case config.BackendMemory:
		a.logger.Info("using in-memory storage; artifacts are discarded at exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (a *App) buildDiscoverer() (harvest.Discoverer, error) {
	cfg := a.cfg.Discovery
	ids := uuid.New()
	logger := a.logger.Named("discovery")
	switch cfg.Provider {
	case config.ProviderHeadless:
		h := cfg.Headless
		d, err := headless.New(headless.Config{
			SearchURL:         cfg.SearchURL,
			UserAgent:         a.userAgent,
			WaitSelector:      h.WaitSelector,
			WaitTimeout:       seconds(h.WaitTimeoutSeconds),
			NavigationTimeout: seconds(h.NavTimeoutSeconds),
			SettleDelay:       millis(h.SettleDelayMs),
			Scrolls:           h.Scrolls,
			ScrollPause:       millis(h.ScrollPauseMs),
			ItemSelector:      h.ItemSelector,
			ItemAttribute:     h.ItemAttribute,
			ItemJSONField:     h.ItemJSONField,
			Limit:             cfg.Limit,
		}, ids, logger)
		if err != nil {
			return nil, err
		}
		a.addCloser("headless browser", func() error {
			d.Close()
			return nil
		})
		return d, nil
	case config.ProviderStatic:
		return static.New(static.Config{
			SearchURL: cfg.SearchURL,
			Selector:  cfg.Static.Selector,
			Attribute: cfg.Static.Attribute,
			UserAgent: a.userAgent,
			Timeout:   a.cfg.RequestTimeout(),
			Limit:     cfg.Limit,
		}, ids, logger)
	case config.ProviderFeed:
		return feed.New(feed.Config{
			FeedURL:   cfg.Feed.URL,
			UserAgent: a.userAgent,
			Timeout:   a.cfg.RequestTimeout(),
			Limit:     cfg.Limit,
		}, ids, logger)
	case config.ProviderFixture:
		return fixture.New(cfg.Fixture.Path, ids)
	default:
		return nil, fmt.Errorf("unknown discovery provider: %s", cfg.Provider)
	}
}

func (a *App) buildRecorders(ctx context.Context, o options) ([]harvest.Recorder, error) {
	var recorders []harvest.Recorder

	if dsn := a.cfg.DB.DSN; dsn != "" {
		a.logger.Info("connecting to PostgreSQL", zap.String("table", a.cfg.DB.Table))
		store, err := postgres.NewOutcomeStore(ctx, postgres.OutcomeStoreConfig{
			DSN:      dsn,
			Table:    a.cfg.DB.Table,
			RunID:    a.runID,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize outcome store: %w", err)
		}
		a.addCloser("outcome store", func() error {
			store.Close()
			return nil
		})
		if a.cfg.DB.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate outcome store: %w", err)
			}
		}
		recorders = append(recorders, store)
	}

	if projectID := a.cfg.PubSub.ProjectID; projectID != "" {
		a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
		pub, err := pubsub.Dial(ctx, projectID, a.cfg.PubSub.TopicName, o.pubsubOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.addCloser("pubsub publisher", pub.Close)
		recorders = append(recorders, publisher.NewRecorder(pub, a.cfg.PubSub.TopicName, a.runID))
	}

	return recorders, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run harvests terms in order and returns the aggregate summary. When a
// metrics address is configured the endpoint is served for the duration of
// the run.
func (a *App) Run(ctx context.Context, terms []string) harvest.RunSummary {
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(srvCtx, addr, a.registry, a.logger.Named("metrics")); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}
	return a.orchestrator.Run(ctx, terms)
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetRegistry exposes the Prometheus registry the run's metrics live in.
func (a *App) GetRegistry() *prometheus.Registry {
	return a.registry
}

// GetSink returns the configured artifact sink.
func (a *App) GetSink() harvest.Sink {
	return a.sink
}

// GetDiscoverer returns the configured discovery provider.
func (a *App) GetDiscoverer() harvest.Discoverer {
	return a.discoverer
}

// RunID identifies this process's run in ledger rows and notifications.
func (a *App) RunID() string {
	return a.runID
}

// UserAgent is the User-Agent chosen for the run.
func (a *App) UserAgent() string {
	return a.userAgent
}

// Close shuts down services in reverse order of construction. It is safe to
// call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(); err != nil {
				a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			a.logger.Debug("application services shut down")
		} else {
			a.logger.Warn("application services shut down with errors", zap.Error(errors.Join(errs...)))
		}
	})
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
