// Package source holds the source adapters that feed canonical records to
// the migration engine and the registry that picks one per job.
package source

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Factory builds the adapter for one job, typically from job.Options.SourceRef.
type Factory func(ctx context.Context, job domain.Job) (domain.SourceAdapter, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[domain.Source]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.Source]Factory)}
}

func (r *Registry) Register(source domain.Source, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[source] = f
}

func (r *Registry) Registered() []domain.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Source, 0, len(r.factories))
	for _, s := range domain.Sources {
		if _, ok := r.factories[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Resolve fails terminally when no adapter is configured for the job's
// source, since retrying cannot fix that.
func (r *Registry) Resolve(ctx context.Context, job domain.Job) (domain.SourceAdapter, error) {
	r.mu.RLock()
	f, ok := r.factories[job.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.Terminal(errors.Newf("no adapter configured for source %s", job.Source))
	}
	return f(ctx, job)
}
