package migration_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

func candidate(ref string, fields domain.Fields, updated time.Time) domain.Candidate {
	return domain.Candidate{
		Ref:        ref,
		Source:     domain.SourceAccuLynx,
		ExternalID: "ext-" + ref,
		Fields:     fields,
		Keys:       domain.KeysFor(domain.EntityContact, fields),
		UpdatedAt:  updated,
	}
}

func contact(id string, fields domain.Fields) domain.CanonicalRecord {
	return domain.CanonicalRecord{ExternalID: id, EntityType: domain.EntityContact, Fields: fields}
}

func TestDetectNoMatchIsNew(t *testing.T) {
	t.Parallel()

	got := domain.Detect(domain.SourceJobNimbus, contact("c-1", domain.Fields{Email: "a@x.com"}), nil, false)
	if got.Decision != domain.DecisionNew || got.Candidate != nil {
		t.Fatalf("expected new decision, got %+v", got)
	}
}

func TestDetectStrategyOrder(t *testing.T) {
	t.Parallel()

	now := time.Now()
	byEmail := candidate("a", domain.Fields{Email: "jane@example.com"}, now.Add(-time.Hour))
	byPhone := candidate("b", domain.Fields{Phone: "555-123-4567"}, now)

	rec := contact("c-1", domain.Fields{Email: "JANE@example.com ", Phone: "+1 (555) 123-4567"})
	got := domain.Detect(domain.SourceJobNimbus, rec, []domain.Candidate{byPhone, byEmail}, false)

	if got.Strategy != domain.StrategyEmail || got.Candidate.Ref != "a" {
		t.Fatalf("expected email match on a, got %s on %+v", got.Strategy, got.Candidate)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("unexpected confidence %v", got.Confidence)
	}
	if got.Decision != domain.DecisionUpdated {
		t.Fatalf("phone fills a blank on a, expected updated, got %s", got.Decision)
	}
}

func TestDetectTieBreaksOnMostRecent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	older := candidate("old", domain.Fields{Phone: "5551234567", FirstName: "A"}, now.Add(-time.Hour))
	newer := candidate("new", domain.Fields{Phone: "(555) 123-4567", FirstName: "B"}, now)

	got := domain.Detect(domain.SourceCSV, contact("c-1", domain.Fields{Phone: "555.123.4567"}),
		[]domain.Candidate{older, newer}, false)
	if got.Strategy != domain.StrategyPhone || got.Candidate.Ref != "new" {
		t.Fatalf("expected phone match on newest candidate, got %s on %+v", got.Strategy, got.Candidate)
	}
	if got.Confidence != 0.9 {
		t.Fatalf("unexpected confidence %v", got.Confidence)
	}
	if got.Decision != domain.DecisionDuplicate {
		t.Fatalf("expected duplicate, got %s", got.Decision)
	}
}

func TestDetectAddressAndName(t *testing.T) {
	t.Parallel()

	now := time.Now()
	house := candidate("h", domain.Fields{Street: "12 Oak Ave.", City: "Tulsa", State: "OK", Zip: "74103"}, now)
	got := domain.Detect(domain.SourceCSV, contact("c-1", domain.Fields{Street: "12 oak ave", City: "TULSA", State: "ok", Zip: "74103"}),
		[]domain.Candidate{house}, false)
	if got.Strategy != domain.StrategyAddress || got.Confidence != 0.7 {
		t.Fatalf("expected address match, got %+v", got)
	}

	person := candidate("p", domain.Fields{FirstName: "Ann", LastName: "Lee", Zip: "74103"}, now)
	got = domain.Detect(domain.SourceCSV, contact("c-2", domain.Fields{FullName: "ann  lee", Zip: "74103"}),
		[]domain.Candidate{person}, false)
	if got.Strategy != domain.StrategyName || got.Confidence != 0.5 {
		t.Fatalf("expected name match, got %+v", got)
	}

	got = domain.Detect(domain.SourceCSV, contact("c-3", domain.Fields{FullName: "Ann Lee", Zip: "10001"}),
		[]domain.Candidate{person}, false)
	if got.Decision != domain.DecisionNew {
		t.Fatalf("different zip must not match on name, got %+v", got)
	}
}

func TestDetectComparesTheStoredDisplayName(t *testing.T) {
	t.Parallel()

	first := contact("c-1", domain.Fields{FirstName: "Jane", LastName: "Roe", Email: "jane@example.com"})
	created := domain.Detect(domain.SourceRoofr, first, nil, false)
	if created.Result.FullName != "Jane Roe" {
		t.Fatalf("expected the derived full name in the result, got %q", created.Result.FullName)
	}

	stored := candidate("a", created.Result, time.Now())
	got := domain.Detect(domain.SourceRoofr, contact("c-2", domain.Fields{FullName: "Jane Roe", Email: "jane@example.com"}),
		[]domain.Candidate{stored}, false)
	if got.Decision != domain.DecisionDuplicate {
		t.Fatalf("the full name is already stored, expected duplicate, got %s", got.Decision)
	}
}

func TestDetectIdentityBeforeEmail(t *testing.T) {
	t.Parallel()

	now := time.Now()
	same := domain.Candidate{Ref: "same", Source: domain.SourceHover, ExternalID: "c-1", UpdatedAt: now.Add(-time.Hour)}
	other := candidate("other", domain.Fields{Email: "x@y.com"}, now)

	got := domain.Detect(domain.SourceHover, contact("c-1", domain.Fields{Email: "x@y.com"}), []domain.Candidate{other, same}, false)
	if got.Strategy != domain.StrategyIdentity || got.Candidate.Ref != "same" {
		t.Fatalf("expected identity match, got %+v", got)
	}
}

func TestDetectDocumentsMatchOnlyByIdentity(t *testing.T) {
	t.Parallel()

	doc := domain.CanonicalRecord{ExternalID: "d-1", EntityType: domain.EntityDocument, Fields: domain.Fields{FileName: "roof.pdf"}}
	other := domain.Candidate{Ref: "x", Source: domain.SourceRoofr, ExternalID: "d-2", Fields: domain.Fields{FileName: "roof.pdf"}}

	if got := domain.Detect(domain.SourceRoofr, doc, []domain.Candidate{other}, false); got.Decision != domain.DecisionNew {
		t.Fatalf("expected new document, got %+v", got)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	existing := domain.Fields{Email: "a@x.com", City: "Austin"}
	incoming := domain.Fields{Email: "b@x.com", Phone: "5551234567", City: "Austin"}

	merged, changed := domain.Merge(existing, incoming, false)
	if !changed || merged.Email != "a@x.com" || merged.Phone != "5551234567" {
		t.Fatalf("fill-blank merge went wrong: %+v", merged)
	}

	merged, changed = domain.Merge(existing, incoming, true)
	if !changed || merged.Email != "b@x.com" {
		t.Fatalf("overwrite merge went wrong: %+v", merged)
	}

	if _, changed := domain.Merge(existing, domain.Fields{City: "Austin"}, false); changed {
		t.Fatal("nothing new must not count as a change")
	}

	value := decimal.RequireFromString("1250.50")
	merged, changed = domain.Merge(domain.Fields{}, domain.Fields{ContractValue: &value}, false)
	if !changed || merged.ContractValue == nil || !merged.ContractValue.Equal(value) {
		t.Fatalf("expected contract value to be filled, got %+v", merged.ContractValue)
	}
}
