// Package app builds the long-lived services from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/source-monitor/internal/adapter"
	"github.com/JakeFAU/source-monitor/internal/api"
	"github.com/JakeFAU/source-monitor/internal/cadence"
	"github.com/JakeFAU/source-monitor/internal/clock/system"
	"github.com/JakeFAU/source-monitor/internal/config"
	"github.com/JakeFAU/source-monitor/internal/diff"
	"github.com/JakeFAU/source-monitor/internal/dispatcher"
	"github.com/JakeFAU/source-monitor/internal/fetcher/safe"
	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/id/uuid"
	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/normalize"
	"github.com/JakeFAU/source-monitor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/source-monitor/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/source-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/source-monitor/internal/retry"
	"github.com/JakeFAU/source-monitor/internal/sla"
	"github.com/JakeFAU/source-monitor/internal/storage/gcs"
	"github.com/JakeFAU/source-monitor/internal/storage/local"
	"github.com/JakeFAU/source-monitor/internal/storage/memory"
	"github.com/JakeFAU/source-monitor/internal/storage/postgres"
	"github.com/JakeFAU/source-monitor/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name string
	fn   func() error
}

// App holds the wired services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     monitor.Clock
	store     monitor.Store
	scheduler *dispatcher.Scheduler
	server    *api.Server
	closers   []closer
}

// New initializes every backend selected by cfg. It fails fast if a
// critical service cannot be reached; anything opened before the failure
// is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	checks := make(map[string]api.ReadyCheck)
	ids := uuid.New()

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		logger.Info("connecting to postgres")
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.ConnLifetime(),
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.addCloser("postgres", func() error { pg.Close(); return nil })
		if cfg.DB.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("schema applied")
		}
		checks["postgres"] = pg.Ping
		a.store = pg
	default:
		logger.Warn("using in-memory store; records are lost on exit")
		a.store = memory.NewStore(ids)
	}

	var blobs monitor.BlobStore
	switch cfg.Storage.Blob {
	case config.BlobGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs", client.Close)
		bs, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		if err := bs.CheckBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("using gcs blob store", zap.String("bucket", cfg.Storage.GCSBucket))
		blobs = bs
	case config.BlobLocal:
		bs, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		logger.Info("using local blob store", zap.String("dir", cfg.Storage.LocalDir))
		blobs = bs
	default:
		blobs = memory.NewBlobStore()
	}

	var publisher monitor.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.addCloser("pubsub", client.Close)
		pub := pubsubpublisher.New(client)
		a.addCloser("pubsub topics", func() error { pub.Stop(); return nil })
		logger.Info("publishing findings to pubsub",
			zap.String("project_id", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
		publisher = pub
	} else {
		publisher = memorypublisher.New()
	}

	registry, err := buildAdapters(cfg, logger)
	if err != nil {
		return nil, err
	}

	processors := []monitor.Processor{
		cadence.New(a.store, cfg.Scheduler.EnqueueBatchSize, logger.Named("cadence")),
		worker.New(worker.Deps{
			Store:     a.store,
			Adapters:  registry,
			Explainer: diff.New(diffOptions(cfg)),
			Policy:    retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.RetrySchedule()),
			Hasher:    sha256.New(),
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.RateLimit.DefaultRPS,
				DefaultBurst: cfg.RateLimit.DefaultBurst,
				HostRPS:      cfg.HostRates(),
			}),
			Blobs:     blobs,
			Publisher: publisher,
		}, worker.Config{
			BatchSize:    cfg.Scheduler.BatchSize,
			Concurrency:  cfg.Scheduler.Concurrency,
			Lease:        cfg.RunLease(),
			BlobPrefix:   cfg.Storage.Prefix,
			Topic:        cfg.PubSub.TopicName,
			PreviewChars: cfg.Normalize.PreviewChars,
		}, logger.Named("worker")),
	}
	if cfg.Scheduler.SLAEnabled {
		processors = append(processors, sla.New(a.store, cfg.SLASettings(), logger.Named("sla")))
	}

	a.scheduler = dispatcher.New(processors, a.clock, dispatcher.Config{
		PollInterval: cfg.PollInterval(),
	}, logger.Named("scheduler"))

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.server = api.NewServer(a.store, a.clock, api.Options{APIKey: apiKey, Checks: checks}, logger.Named("api"))

	logger.Info("application services initialized", zap.Int("processors", len(processors)))
	return a, nil
}

func buildAdapters(cfg config.Config, logger *zap.Logger) (*adapter.Registry, error) {
	fetcher := safe.New(safe.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		MaxBytes:  cfg.Fetch.MaxBytes,
	}, logger.Named("fetcher"))

	registry, err := adapter.NewRegistry(
		adapter.NewHTML(fetcher, normalize.New(sha256.New(), cfg.Normalize.PreviewChars)),
		adapter.NewRSS(fetcher, logger.Named("rss")),
		adapter.NewPDF(fetcher, adapter.PDFOptions{
			MaxPages: cfg.Adapters.PDF.MaxPages,
			MaxChars: cfg.Adapters.PDF.MaxChars,
		}, logger.Named("pdf")),
		adapter.NewGitHubReleases(fetcher, adapter.GitHubOptions{
			Token:   cfg.Adapters.GitHub.Token,
			PerPage: cfg.Adapters.GitHub.PerPage,
		}, logger.Named("github")),
	)
	if err != nil {
		return nil, fmt.Errorf("init adapter registry: %w", err)
	}
	return registry, nil
}

func diffOptions(cfg config.Config) diff.Options {
	return diff.Options{
		ContextLines:    cfg.Diff.ContextLines,
		MaxPreviewLines: cfg.Diff.MaxPreviewLines,
		MaxCitations:    cfg.Diff.MaxCitations,
		MaxQuoteChars:   cfg.Diff.MaxQuoteChars,
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Store returns the record store.
func (a *App) Store() monitor.Store {
	return a.store
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Tick runs every processor once.
func (a *App) Tick(ctx context.Context) []monitor.BatchResult {
	return a.scheduler.Tick(ctx, a.clock.Now())
}

// Serve runs the scheduler loop and the HTTP server until ctx is canceled
// or the server fails.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
