package migration

import "time"

type MatchDecision string

const (
	DecisionNew       MatchDecision = "new"
	DecisionDuplicate MatchDecision = "duplicate"
	DecisionUpdated   MatchDecision = "updated"
)

type MatchStrategy string

const (
	StrategyNone     MatchStrategy = ""
	StrategyIdentity MatchStrategy = "identity"
	StrategyEmail    MatchStrategy = "email"
	StrategyPhone    MatchStrategy = "phone"
	StrategyAddress  MatchStrategy = "address"
	StrategyName     MatchStrategy = "name"
)

// Item is the append-only audit row written for every processed record.
//
// Result holds the destination record as it looks after this item was
// applied and Keys are derived from it. TargetRef names the destination
// record the item resolved to: a staging row id, or for dry runs that
// created nothing, the id of the item that would have created it.
type Item struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Seq         int64           `json:"seq"`
	ExternalID  string          `json:"external_id"`
	EntityType  EntityType      `json:"entity_type"`
	Payload     CanonicalRecord `json:"canonical_payload"`
	Decision    MatchDecision   `json:"match_decision,omitempty"`
	Strategy    MatchStrategy   `json:"match_strategy,omitempty"`
	Confidence  float64         `json:"match_confidence"`
	TargetID    *string         `json:"target_id,omitempty"`
	TargetRef   string          `json:"-"`
	Result      Fields          `json:"-"`
	Keys        MatchKeys       `json:"-"`
	Error       *string         `json:"error,omitempty"`
	DryRun      bool            `json:"dry_run"`
	ProcessedAt time.Time       `json:"processed_at"`
}
