package migration

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// RetryPolicy bounds the retries of a single external call and the
// job-level delay after a page could not be fetched at all.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff is BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := math.Pow(2, float64(attempt-1)) * float64(p.BaseDelay)
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

type retrier struct {
	policy RetryPolicy

	mu  sync.Mutex
	rnd *rand.Rand
}

func newRetrier(policy RetryPolicy) *retrier {
	return &retrier{
		policy: policy.withDefaults(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
}

func (r *retrier) jitter() time.Duration {
	if r.policy.MaxJitter <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.rnd.Int63n(int64(r.policy.MaxJitter) + 1))
}

// delay is the wait before retry number attempt, jitter included.
func (r *retrier) delay(attempt int) time.Duration {
	return r.policy.Backoff(attempt) + r.jitter()
}

// do runs op until it succeeds, fails terminally or the attempts are used
// up. Errors that are neither terminal nor a context error are retried.
func (r *retrier) do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if domain.IsTerminal(err) || ctx.Err() != nil {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if !sleepWithContext(ctx, r.delay(attempt)) {
			return ctx.Err()
		}
	}
	return errors.Wrapf(domain.Transient(err), "gave up after %d attempts", r.policy.MaxAttempts)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
