package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Postgres takes session-level advisory locks. The lock lives as long as the
// pooled connection it was taken on, so that connection is held until
// Release and a crashed worker frees its jobs when its session ends.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) TryLock(ctx context.Context, jobID string, _ time.Duration) (domain.JobLock, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire lock connection")
	}

	key := advisoryLockKey("migration-job:" + jobID)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, "try advisory lock")
	}
	if !ok {
		conn.Release()
		return nil, errors.Wrapf(domain.ErrLockNotAcquired, "job %s", jobID)
	}
	return &postgresLock{conn: conn, key: key, jobID: jobID}, nil
}

type postgresLock struct {
	mu    sync.Mutex
	conn  *pgxpool.Conn
	key   int64
	jobID string
}

// Refresh checks that the session holding the lock is still alive.
func (k *postgresLock) Refresh(ctx context.Context, _ time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.conn == nil {
		return errors.Newf("lock on job %s was released", k.jobID)
	}
	return errors.Wrapf(k.conn.Ping(ctx), "lock session of job %s", k.jobID)
}

func (k *postgresLock) Release(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.conn == nil {
		return nil
	}
	conn := k.conn
	k.conn = nil
	defer conn.Release()

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1::bigint)`, k.key).Scan(&ok); err != nil {
		// Closing the session drops the lock with it.
		_ = conn.Conn().Close(ctx)
		return errors.Wrap(err, "advisory unlock")
	}
	return nil
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
