package migration

import (
	"time"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Metrics receives engine events. The prometheus implementation lives in
// infrastructure/metrics.
type Metrics interface {
	RecordProcessed(source domain.Source, entity domain.EntityType, outcome string)
	ObservePageFetch(source domain.Source, d time.Duration, err error)
	JobFinished(source domain.Source, status domain.Status)
	RowsRolledBack(n int64)
}

// Record outcomes reported to Metrics besides the match decisions.
const (
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

type nopMetrics struct{}

func (nopMetrics) RecordProcessed(domain.Source, domain.EntityType, string) {}
func (nopMetrics) ObservePageFetch(domain.Source, time.Duration, error)     {}
func (nopMetrics) JobFinished(domain.Source, domain.Status)                 {}
func (nopMetrics) RowsRolledBack(int64)                                     {}
