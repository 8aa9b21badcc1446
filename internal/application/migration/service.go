package migration

import (
	"context"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Service is the control surface the transport layer talks to.
type Service interface {
	Start(ctx context.Context, in StartInput) (domain.Job, error)
	Pause(ctx context.Context, jobID string) (domain.Job, error)
	Resume(ctx context.Context, jobID string) (domain.Job, error)
	Cancel(ctx context.Context, jobID string) (domain.Job, error)
	Rollback(ctx context.Context, jobID string) (domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	ListItems(ctx context.Context, jobID string, limit, offset int) ([]domain.Item, int64, error)
	Estimate(contacts, jobs int) string
}

var _ Service = (*Orchestrator)(nil)
