// Package bootstrap wires configuration into the running service.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	app "github.com/restoreworks/crm-migration/internal/application/migration"
	"github.com/restoreworks/crm-migration/internal/config"
	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
	"github.com/restoreworks/crm-migration/internal/infrastructure/attachment"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db"
	"github.com/restoreworks/crm-migration/internal/infrastructure/lock"
	"github.com/restoreworks/crm-migration/internal/infrastructure/metrics"
	"github.com/restoreworks/crm-migration/internal/infrastructure/repository"
	"github.com/restoreworks/crm-migration/internal/infrastructure/source"
	httpecho "github.com/restoreworks/crm-migration/internal/interfaces/http/echo"
)

// App is the assembled service: the HTTP control surface and the worker
// pool sharing one orchestrator.
type App struct {
	Server       *echo.Echo
	Orchestrator *app.Orchestrator
	Worker       *app.Worker

	logger  *zap.Logger
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	gdb, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return db.Close(gdb) })

	locker, err := a.newLocker(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	jobs := repository.NewMigrationJobRepository(gdb)
	a.Orchestrator = app.NewOrchestrator(app.Deps{
		Jobs:        jobs,
		Items:       repository.NewMigrationItemRepository(gdb),
		Staging:     repository.NewStagingRepository(gdb),
		Sources:     NewSourceRegistry(cfg),
		Attachments: attachment.NewLinkStore(),
		Metrics:     metrics.NewPrometheus(),
		Logger:      logger.Named("engine"),
	}, app.Config{
		Retry: app.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			MaxJitter:   cfg.Retry.MaxJitter,
		},
		ConflictRetries:   cfg.ConflictRetries,
		MaxFetchFailures:  cfg.MaxFetchFailures,
		RollbackBatchSize: cfg.RollbackBatchSize,
		PhoneRegion:       cfg.PhoneRegion,
	})

	a.Worker = app.NewWorker(a.Orchestrator, jobs, locker, logger.Named("worker"), app.WorkerConfig{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		LockTTL:      cfg.LockTTL,
	})
	a.Orchestrator.SetScheduler(a.Worker)

	handler := httpecho.NewMigrationHandler(a.Orchestrator, logger.Named("http"))
	a.Server = NewHTTPServer(handler, logger.Named("http"), cfg.MetricsPath)
	return a, nil
}

// OpenDatabase connects to the configured database. SQLite databases get
// their schema on open; Postgres is migrated with the db up command.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return db.OpenSQLite(cfg.SQLitePath)
	}
	return db.OpenPostgres(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: cfg.DBMaxConns})
}

func (a *App) newLocker(ctx context.Context, cfg *config.Config) (domain.JobLocker, error) {
	switch cfg.LockBackend {
	case config.LockPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create lock pool")
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return lock.NewPostgres(pool), nil
	case config.LockRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_URL")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "ping redis")
		}
		a.closers = append(a.closers, client.Close)
		return lock.NewRedis(client), nil
	default:
		return lock.NewLocal(), nil
	}
}

// NewSourceRegistry registers an HTTP feed for every API source with a feed
// URL and the file source for CSV imports.
func NewSourceRegistry(cfg *config.Config) *source.Registry {
	registry := source.NewRegistry()
	for src, feed := range cfg.Feeds() {
		registry.Register(src, source.NewHTTPFeedFactory(&http.Client{}, source.HTTPFeedConfig{
			BaseURL:   feed.URL,
			Token:     feed.Token,
			RateLimit: cfg.RateLimitRPS,
			Burst:     cfg.RateBurst,
			Timeout:   cfg.SourceTimeout,
		}))
	}
	registry.Register(domain.SourceCSV, source.NewFileSourceFactory(cfg.ImportBaseDir))
	return registry
}

// Run serves HTTP and runs the worker pool until ctx is cancelled, then
// shuts both down.
func (a *App) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	a.Worker.Start(workerCtx)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.Server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	a.logger.Info("crm migration service started", zap.String("addr", addr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.CombineErrors(runErr, errors.Wrap(err, "graceful shutdown"))
	}
	stopWorkers()
	a.Worker.Wait()
	return runErr
}

func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
