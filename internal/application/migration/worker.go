package migration

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

type jobRunner interface {
	Run(ctx context.Context, jobID string) error
}

type runnableLister interface {
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
}

type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	LockTTL      time.Duration
	// RefreshInterval is how often a held job lock is extended.
	RefreshInterval time.Duration
}

// Worker runs RUNNING jobs. Every instance polls for runnable jobs, so a job
// whose worker crashed is picked up from its checkpoint by any other one;
// the job lock keeps a job on a single worker at a time.
type Worker struct {
	runner jobRunner
	jobs   runnableLister
	locker domain.JobLocker
	logger *zap.Logger
	cfg    WorkerConfig

	kicks chan string
	once  sync.Once
	wg    sync.WaitGroup
}

func NewWorker(runner jobRunner, jobs runnableLister, locker domain.JobLocker, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = cfg.LockTTL / 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		runner: runner,
		jobs:   jobs,
		locker: locker,
		logger: logger,
		cfg:    cfg,
		kicks:  make(chan string, cfg.Workers*4),
	}
}

// Kick asks the pool to run jobID soon. It never blocks; a dropped kick is
// recovered by the next poll.
func (w *Worker) Kick(jobID string) {
	select {
	case w.kicks <- jobID:
	default:
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		for i := 0; i < w.cfg.Workers; i++ {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.workerLoop(ctx)
			}()
		}
	})
}

// Wait blocks until every worker goroutine returned after ctx was cancelled.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) workerLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-w.kicks:
			w.process(ctx, jobID)
		case <-timer.C:
			w.poll(ctx)
			timer.Reset(w.cfg.PollInterval)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.jobs.ListRunnable(ctx, time.Now(), w.cfg.Workers*2)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("list runnable migration jobs failed", zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, job.ID)
	}
}

// process runs one job while holding its lock. The run is cancelled when
// the lock cannot be refreshed.
func (w *Worker) process(ctx context.Context, jobID string) {
	lock, err := w.locker.TryLock(ctx, jobID, w.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		return
	}
	if err != nil {
		w.logger.Error("acquire job lock failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("release job lock failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		ticker := time.NewTicker(w.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(runCtx, w.cfg.LockTTL); err != nil {
					if runCtx.Err() == nil {
						w.logger.Warn("job lock lost, stopping run", zap.String("job_id", jobID), zap.Error(err))
					}
					cancel()
					return
				}
			}
		}
	}()

	if err := w.runner.Run(runCtx, jobID); err != nil && ctx.Err() == nil {
		w.logger.Error("migration run failed", zap.String("job_id", jobID), zap.Error(err))
	}
	cancel()
	<-refreshDone
}
