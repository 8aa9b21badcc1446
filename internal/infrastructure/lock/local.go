// Package lock provides the per-job locks that keep a migration job on one
// worker at a time.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Local locks jobs within a single process. It is enough when one instance
// runs the worker pool.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

func (l *Local) TryLock(ctx context.Context, jobID string, _ time.Duration) (domain.JobLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[jobID]; ok {
		return nil, errors.Wrapf(domain.ErrLockNotAcquired, "job %s", jobID)
	}
	l.next++
	l.held[jobID] = l.next
	return &localLock{owner: l, jobID: jobID, token: l.next}, nil
}

type localLock struct {
	owner *Local
	jobID string
	token uint64
}

func (k *localLock) Refresh(context.Context, time.Duration) error {
	k.owner.mu.Lock()
	defer k.owner.mu.Unlock()
	if k.owner.held[k.jobID] != k.token {
		return errors.Newf("lock on job %s is no longer held", k.jobID)
	}
	return nil
}

func (k *localLock) Release(context.Context) error {
	k.owner.mu.Lock()
	defer k.owner.mu.Unlock()
	if k.owner.held[k.jobID] == k.token {
		delete(k.owner.held, k.jobID)
	}
	return nil
}
