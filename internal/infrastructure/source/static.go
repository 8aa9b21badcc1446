package source

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// Static serves a fixed slice of records with index cursors. It backs
// demos and engine tests.
type Static struct {
	Records []domain.CanonicalRecord
}

func NewStaticFactory(records []domain.CanonicalRecord) Factory {
	s := &Static{Records: records}
	return func(context.Context, domain.Job) (domain.SourceAdapter, error) {
		return s, nil
	}
}

func (s *Static) FetchPage(_ context.Context, cursor string, limit int) (domain.Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(s.Records) {
			return domain.Page{}, domain.Terminal(errors.Newf("invalid cursor %q", cursor))
		}
		offset = n
	}
	if limit <= 0 {
		limit = 1
	}

	end := min(offset+limit, len(s.Records))
	page := domain.Page{Records: append([]domain.CanonicalRecord(nil), s.Records[offset:end]...)}
	if end < len(s.Records) {
		next := strconv.Itoa(end)
		page.NextCursor = &next
	}
	return page, nil
}

func (s *Static) EstimateTotal(context.Context) (int64, error) {
	return int64(len(s.Records)), nil
}
