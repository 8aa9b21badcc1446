package attachment

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// LinkStore keeps documents where the source CRM hosts them: it checks
// that the attachment URL is usable and records it as the storage key.
// Copying the bytes into object storage is left to a downstream service.
type LinkStore struct {
	allowedSchemes map[string]bool
}

func NewLinkStore() *LinkStore {
	return &LinkStore{allowedSchemes: map[string]bool{"https": true, "http": true}}
}

func (s *LinkStore) Fetch(ctx context.Context, orgID string, rec domain.CanonicalRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw := strings.TrimSpace(rec.Fields.URL)
	if raw == "" {
		return "", domain.Terminal(errors.Newf("document %s has no url", rec.ExternalID))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", domain.Terminal(errors.Wrapf(err, "document %s url", rec.ExternalID))
	}
	if !s.allowedSchemes[strings.ToLower(u.Scheme)] || u.Host == "" {
		return "", domain.Terminal(errors.Newf("document %s url %q is not an http(s) link", rec.ExternalID, raw))
	}
	return u.String(), nil
}
