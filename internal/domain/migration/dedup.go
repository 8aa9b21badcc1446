package migration

import "time"

// Candidate is an existing destination record duplicate detection may
// resolve an incoming record to.
type Candidate struct {
	// Ref identifies the destination record: the staging row id, or the id
	// of the dry-run item that stands in for a row never written.
	Ref        string
	StagingID  *string
	Source     Source
	ExternalID string
	Fields     Fields
	Keys       MatchKeys
	UpdatedAt  time.Time
}

type Match struct {
	Decision   MatchDecision
	Strategy   MatchStrategy
	Confidence float64
	Candidate  *Candidate
	// Result is the destination record after the write the decision implies.
	Result Fields
}

type strategy struct {
	name       MatchStrategy
	confidence float64
	matches    func(source Source, rec CanonicalRecord, keys MatchKeys, c Candidate) bool
}

var strategies = []strategy{
	{name: StrategyIdentity, confidence: 1.0, matches: func(source Source, rec CanonicalRecord, _ MatchKeys, c Candidate) bool {
		return c.Source == source && c.ExternalID == rec.ExternalID
	}},
	{name: StrategyEmail, confidence: 1.0, matches: func(_ Source, _ CanonicalRecord, keys MatchKeys, c Candidate) bool {
		return keys.Email != "" && keys.Email == c.Keys.Email
	}},
	{name: StrategyPhone, confidence: 0.9, matches: func(_ Source, _ CanonicalRecord, keys MatchKeys, c Candidate) bool {
		return len(keys.Phone) == phoneKeyDigits && keys.Phone == c.Keys.Phone
	}},
	{name: StrategyAddress, confidence: 0.7, matches: func(_ Source, _ CanonicalRecord, keys MatchKeys, c Candidate) bool {
		return keys.Address != "" && keys.Address == c.Keys.Address
	}},
	{name: StrategyName, confidence: 0.5, matches: func(_ Source, _ CanonicalRecord, keys MatchKeys, c Candidate) bool {
		if keys.Name == "" || keys.Name != c.Keys.Name {
			return false
		}
		switch {
		case keys.Zip != "" && c.Keys.Zip != "":
			return keys.Zip == c.Keys.Zip
		case keys.City != "" && c.Keys.City != "":
			return keys.City == c.Keys.City
		default:
			return true
		}
	}},
}

// Detect resolves rec against candidates of the same org and entity type.
// Strategies run strongest first and the first one with any match wins; when
// several candidates match that strategy the most recently updated one is
// chosen.
func Detect(source Source, rec CanonicalRecord, candidates []Candidate, overwrite bool) Match {
	incoming := rec.Fields.Staged(rec.EntityType)
	keys := KeysFor(rec.EntityType, incoming)

	for _, s := range strategies {
		if rec.EntityType == EntityDocument && s.name != StrategyIdentity {
			break
		}

		var best *Candidate
		for i := range candidates {
			c := &candidates[i]
			if !s.matches(source, rec, keys, *c) {
				continue
			}
			if best == nil || c.UpdatedAt.After(best.UpdatedAt) ||
				(c.UpdatedAt.Equal(best.UpdatedAt) && c.Ref > best.Ref) {
				best = c
			}
		}
		if best == nil {
			continue
		}

		result, changed := Merge(best.Fields, incoming, overwrite)
		decision := DecisionDuplicate
		if changed {
			decision = DecisionUpdated
		}
		return Match{
			Decision:   decision,
			Strategy:   s.name,
			Confidence: s.confidence,
			Candidate:  best,
			Result:     result,
		}
	}

	return Match{Decision: DecisionNew, Result: incoming}
}

type stringField func(*Fields) *string

var mergeableFields = []stringField{
	func(f *Fields) *string { return &f.FirstName },
	func(f *Fields) *string { return &f.LastName },
	func(f *Fields) *string { return &f.FullName },
	func(f *Fields) *string { return &f.Email },
	func(f *Fields) *string { return &f.Phone },
	func(f *Fields) *string { return &f.Street },
	func(f *Fields) *string { return &f.City },
	func(f *Fields) *string { return &f.State },
	func(f *Fields) *string { return &f.Zip },
	func(f *Fields) *string { return &f.Title },
	func(f *Fields) *string { return &f.Status },
	func(f *Fields) *string { return &f.ContactExternalID },
	func(f *Fields) *string { return &f.ParentExternalID },
	func(f *Fields) *string { return &f.FileName },
	func(f *Fields) *string { return &f.URL },
}

// Merge applies incoming onto existing. Blank fields are filled; populated
// fields are replaced only when overwrite is set. changed reports whether
// the result differs from existing.
func Merge(existing, incoming Fields, overwrite bool) (Fields, bool) {
	result := existing
	changed := false

	for _, field := range mergeableFields {
		in := *field(&incoming)
		cur := field(&result)
		if in == "" || in == *cur {
			continue
		}
		if *cur == "" || overwrite {
			*cur = in
			changed = true
		}
	}

	if in := incoming.ContractValue; in != nil {
		cur := result.ContractValue
		if cur == nil || (overwrite && !cur.Equal(*in)) {
			v := *in
			result.ContractValue = &v
			changed = true
		}
	}

	return result, changed
}
