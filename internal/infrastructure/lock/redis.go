package lock

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Redis locks jobs with expiring redis keys. A worker that stops refreshing
// loses the lock after its TTL.
type Redis struct {
	locker *redislock.Client
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{locker: redislock.New(client)}
}

func (r *Redis) TryLock(ctx context.Context, jobID string, ttl time.Duration) (domain.JobLock, error) {
	lock, err := r.locker.Obtain(ctx, "lock:migration-job:"+jobID, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.Wrapf(domain.ErrLockNotAcquired, "job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "obtain redis lock")
	}
	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (k *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	return errors.Wrap(k.lock.Refresh(ctx, ttl, nil), "refresh redis lock")
}

func (k *redisLock) Release(ctx context.Context) error {
	err := k.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return errors.Wrap(err, "release redis lock")
}
