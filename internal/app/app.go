// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for a poll run.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/api"
	"github.com/JakeFAU/feedpoller/internal/artifact"
	"github.com/JakeFAU/feedpoller/internal/clock/system"
	"github.com/JakeFAU/feedpoller/internal/config"
	"github.com/JakeFAU/feedpoller/internal/hash/sha256"
	"github.com/JakeFAU/feedpoller/internal/id/uuid"
	"github.com/JakeFAU/feedpoller/internal/policy/ratelimit"
	"github.com/JakeFAU/feedpoller/internal/poller"
	pubsubpub "github.com/JakeFAU/feedpoller/internal/publisher/pubsub"
	filesource "github.com/JakeFAU/feedpoller/internal/source/file"
	pgsource "github.com/JakeFAU/feedpoller/internal/source/postgres"
	sqlitesource "github.com/JakeFAU/feedpoller/internal/source/sqlite"
	"github.com/JakeFAU/feedpoller/internal/storage/gcs"
	"github.com/JakeFAU/feedpoller/internal/storage/local"
	"github.com/JakeFAU/feedpoller/internal/storage/memory"
	pgstore "github.com/JakeFAU/feedpoller/internal/storage/postgres"
	redisstore "github.com/JakeFAU/feedpoller/internal/storage/redis"
)

// RunRecorder persists the outcome of each run.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec pgstore.RunRecord) error
}

const historyTimeout = 10 * time.Second

type closer struct {
	name  string
	close func() error
}

// App holds the shared services for one process: the feed source, the
// artifact store and writer, and the orchestrator that drives a run.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Source       poller.FeedSource
	Store        artifact.BlobStore
	Writer       *artifact.Writer
	Orchestrator *poller.Orchestrator
	Runs         *api.RunTracker
	History      RunRecorder

	clock   *system.Clock
	closers []closer
}

// New builds every service named by cfg. It fails fast if any of them cannot
// be initialized, closing whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Runs:   api.NewRunTracker(),
		clock:  system.New(),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	a.Logger.Info("initializing application services")

	source, err := a.buildSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize feed source: %w", err)
	}
	a.Source = source

	store, err := a.buildStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	a.Store = store

	writerOpts := []artifact.Option{artifact.WithHasher(sha256.New())}
	if a.Config.PubSub.Topic != "" {
		a.Logger.Info("publishing artifact events", zap.String("topic", a.Config.PubSub.Topic))
		pub, err := pubsubpub.Open(ctx, a.Config.PubSub.ProjectID, a.Config.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.addCloser("pubsub publisher", pub.Close)
		writerOpts = append(writerOpts, artifact.WithPublisher(pub))
	}

	if dsn := a.Config.History.DSN; dsn != "" {
		a.Logger.Info("recording run history", zap.String("table", a.Config.History.Table))
		history, err := pgstore.NewRunStore(ctx, dsn, a.Config.History.Table)
		if err != nil {
			return fmt.Errorf("failed to initialize run history: %w", err)
		}
		a.addCloser("run history", func() error {
			history.Close()
			return nil
		})
		a.History = history
	}

	pollerCfg := a.Config.PollerSettings()
	writer, err := artifact.NewWriter(store, artifact.Config{
		Prefix:           a.Config.Storage.Prefix,
		ContentType:      a.Config.Storage.ContentType,
		SizeExceededCode: pollerCfg.Codes.SizeExceeded,
		Topic:            a.Config.PubSub.Topic,
	}, a.Logger.Named("artifact"), writerOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact writer: %w", err)
	}
	a.Writer = writer

	var execOpts []poller.ExecutorOption
	if rps := a.Config.Poller.PerHostRPS; rps > 0 {
		a.Logger.Info("pacing requests per host", zap.Float64("rps", rps), zap.Int("burst", a.Config.Poller.PerHostBurst))
		execOpts = append(execOpts, poller.WithHostLimiter(ratelimit.New(ratelimit.Config{
			RPS:   rps,
			Burst: a.Config.Poller.PerHostBurst,
		})))
	}
	executor, err := poller.NewExecutor(pollerCfg, writer, a.clock, a.Logger.Named("executor"), execOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}

	orch, err := poller.NewOrchestrator(source, executor, pollerCfg.Concurrency, a.Logger.Named("orchestrator"),
		poller.WithRunIDs(uuid.New()))
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	a.Orchestrator = orch

	a.Logger.Info("application services initialized")
	return nil
}

func (a *App) buildSource(ctx context.Context) (poller.FeedSource, error) {
	sc := a.Config.Source
	switch sc.Provider {
	case "file":
		a.Logger.Info("using file feed source", zap.String("path", sc.File.Path))
		src, err := filesource.New(sc.File.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "sqlite":
		a.Logger.Info("using sqlite feed source", zap.String("path", sc.SQLite.Path))
		src, err := sqlitesource.Open(ctx, sqlitesource.Config{Path: sc.SQLite.Path, Table: sc.SQLite.Table})
		if err != nil {
			return nil, err
		}
		a.addCloser("sqlite source", src.Close)
		return src, nil
	case "postgres":
		a.Logger.Info("using postgres feed source", zap.String("table", sc.Postgres.Table))
		src, err := pgsource.New(ctx, pgsource.Config{
			DSN:             sc.Postgres.DSN,
			Table:           sc.Postgres.Table,
			MaxConns:        sc.Postgres.MaxConns,
			MaxConnLifetime: sc.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.addCloser("postgres source", func() error {
			src.Close()
			return nil
		})
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source provider: %s", sc.Provider)
	}
}

func (a *App) buildStore(ctx context.Context) (artifact.BlobStore, error) {
	sc := a.Config.Storage
	switch sc.Provider {
	case "local":
		a.Logger.Info("using local artifact store", zap.String("base_dir", sc.Local.BaseDir))
		store, err := local.New(local.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "gcs":
		a.Logger.Info("using gcs artifact store", zap.String("bucket", sc.GCS.Bucket))
		store, err := gcs.Open(ctx, gcs.Config{Bucket: sc.GCS.Bucket})
		if err != nil {
			return nil, err
		}
		a.addCloser("gcs store", store.Close)
		return store, nil
	case "redis":
		a.Logger.Info("using redis artifact store", zap.String("addr", sc.Redis.Addr))
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
			TTL:       sc.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		a.addCloser("redis store", store.Close)
		return store, nil
	case "memory":
		a.Logger.Info("using in-memory artifact store; artifacts are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", sc.Provider)
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Run performs one poll run, records its summary and logs it.
func (a *App) Run(ctx context.Context) (poller.RunSummary, error) {
	started := a.clock.Now()
	summary, err := a.Orchestrator.Run(ctx)
	finished := a.clock.Now()
	a.recordHistory(ctx, summary, started, finished, err)
	if err != nil {
		return summary, fmt.Errorf("run %s: %w", summary.RunID, err)
	}
	a.Runs.Record(summary, finished)
	a.Logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("not_updated", summary.NotUpdated),
		zap.Int("failed", summary.Failed),
		zap.Int("write_failures", summary.WriteFailures),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (a *App) recordHistory(ctx context.Context, summary poller.RunSummary, started, finished time.Time, runErr error) {
	if a.History == nil || summary.RunID == "" {
		return
	}
	// Record even when the run was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	err := a.History.RecordRun(ctx, pgstore.RunRecord{
		Summary:    summary,
		StartedAt:  started,
		FinishedAt: finished,
		Status:     pgstore.StatusFor(summary, runErr),
		Err:        runErr,
	})
	if err != nil {
		a.Logger.Warn("record run history failed", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
