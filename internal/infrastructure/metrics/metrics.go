// Package metrics exports migration engine events to prometheus.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

type collectors struct {
	recordsTotal     *prometheus.CounterVec
	pageFetchLatency *prometheus.HistogramVec
	jobsFinished     *prometheus.CounterVec
	rolledBackRows   prometheus.Counter
}

var collectorsSingleton = sync.OnceValue(func() *collectors {
	return &collectors{
		recordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm_migration",
			Name:      "records_total",
			Help:      "Records processed by outcome.",
		}, []string{"source", "entity_type", "outcome"}),
		pageFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crm_migration",
			Name:      "page_fetch_seconds",
			Help:      "Latency of source page fetches.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "ok"}),
		jobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm_migration",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a final status.",
		}, []string{"source", "status"}),
		rolledBackRows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crm_migration",
			Name:      "rolled_back_rows_total",
			Help:      "Staged rows deleted by rollbacks.",
		}),
	}
})

// Prometheus implements the engine's Metrics port. Collectors are
// registered once per process, so any number of values share them.
type Prometheus struct {
	c *collectors
}

func NewPrometheus() *Prometheus {
	return &Prometheus{c: collectorsSingleton()}
}

func (p *Prometheus) RecordProcessed(source domain.Source, entity domain.EntityType, outcome string) {
	p.c.recordsTotal.WithLabelValues(string(source), string(entity), outcome).Inc()
}

func (p *Prometheus) ObservePageFetch(source domain.Source, d time.Duration, err error) {
	p.c.pageFetchLatency.WithLabelValues(string(source), strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

func (p *Prometheus) JobFinished(source domain.Source, status domain.Status) {
	p.c.jobsFinished.WithLabelValues(string(source), string(status)).Inc()
}

func (p *Prometheus) RowsRolledBack(n int64) {
	if n > 0 {
		p.c.rolledBackRows.Add(float64(n))
	}
}
