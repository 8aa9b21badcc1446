package migration

import (
	"context"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Detector gathers the candidates an incoming record may duplicate and runs
// the matching strategies over them.
type Detector struct {
	staging domain.StagingRepository
	items   domain.ItemRepository
}

func NewDetector(staging domain.StagingRepository, items domain.ItemRepository) *Detector {
	return &Detector{staging: staging, items: items}
}

func (d *Detector) Detect(ctx context.Context, job domain.Job, rec domain.CanonicalRecord) (domain.Match, error) {
	q := domain.CandidateQuery{
		OrgID:      job.OrgID,
		JobID:      job.ID,
		Source:     job.Source,
		EntityType: rec.EntityType,
		ExternalID: rec.ExternalID,
		Keys:       domain.KeysFor(rec.EntityType, rec.Fields),
	}

	candidates, err := d.staging.FindCandidates(ctx, q)
	if err != nil {
		return domain.Match{}, errors.Wrap(err, "find staged candidates")
	}
	if job.Options.DryRun {
		candidates, err = d.overlayDryRun(ctx, q, candidates)
		if err != nil {
			return domain.Match{}, err
		}
	}

	return domain.Detect(job.Source, rec, candidates, job.Options.Overwrite), nil
}

// overlayDryRun replaces staged candidates with the state the job's own
// earlier dry-run items left them in, and adds the records those items would
// have created. A dry run therefore resolves every record exactly as the
// real run would.
func (d *Detector) overlayDryRun(ctx context.Context, q domain.CandidateQuery, staged []domain.Candidate) ([]domain.Candidate, error) {
	matches, err := d.items.FindDryRunMatches(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "find dry-run matches")
	}
	if len(matches) == 0 && len(staged) == 0 {
		return nil, nil
	}

	byRef := make(map[string]domain.Candidate, len(staged)+len(matches))
	order := make([]string, 0, len(staged)+len(matches))
	for _, c := range staged {
		byRef[c.Ref] = c
		order = append(order, c.Ref)
	}

	var unknown []string
	for _, m := range matches {
		if _, ok := byRef[m.TargetRef]; ok {
			continue
		}
		byRef[m.TargetRef] = domain.Candidate{Ref: m.TargetRef}
		order = append(order, m.TargetRef)
		unknown = append(unknown, m.TargetRef)
	}

	latest, err := d.items.LatestByTarget(ctx, q.JobID, order)
	if err != nil {
		return nil, errors.Wrap(err, "load latest dry-run state")
	}
	for _, item := range latest {
		c := byRef[item.TargetRef]
		c.Fields = item.Result
		c.Keys = item.Keys
		if item.ProcessedAt.After(c.UpdatedAt) {
			c.UpdatedAt = item.ProcessedAt
		}
		byRef[item.TargetRef] = c
	}

	// A ref that is not a staged candidate is either the id of the item that
	// would have created the record, or a staged row reached only through
	// keys this job changed. Only the former has an identity to restore.
	roots, err := d.items.GetByIDs(ctx, unknown)
	if err != nil {
		return nil, errors.Wrap(err, "load dry-run roots")
	}
	isRoot := make(map[string]bool, len(roots))
	for _, root := range roots {
		isRoot[root.ID] = true
		c := byRef[root.ID]
		c.Source = q.Source
		c.ExternalID = root.ExternalID
		byRef[root.ID] = c
	}
	for _, ref := range unknown {
		if isRoot[ref] {
			continue
		}
		c := byRef[ref]
		id := ref
		c.StagingID = &id
		byRef[ref] = c
	}

	out := make([]domain.Candidate, 0, len(order))
	for _, ref := range order {
		out = append(out, byRef[ref])
	}
	return out, nil
}
