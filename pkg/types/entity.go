package types

import "time"

// CanonicalEntity is the deduplicated, authoritative record a mention
// resolves to. Canonical names are not required to be unique - disambiguation
// lives in the alias table and the entity type.
type CanonicalEntity struct {
	ID            string                 `json:"id"`
	EntityType    string                 `json:"entity_type"`              // customer, feature, issue, theme
	CanonicalName string                 `json:"canonical_name"`           // Human-readable display form
	Description   string                 `json:"description,omitempty"`    // Optional free-form description
	Metadata      map[string]interface{} `json:"metadata,omitempty"`       // Type-specific metadata
	Confidence    float64                `json:"confidence"`               // Baseline 1.0 at creation, never recomputed
	CreatedBy     string                 `json:"created_by,omitempty"`     // "human" or a system identifier
	IsActive      bool                   `json:"is_active"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`

	// Aliases is populated by GetWithAliases; empty elsewhere.
	Aliases []Alias `json:"aliases,omitempty"`
}

// Alias is a known textual variant mapped to a canonical entity. The entity
// exclusively owns its aliases - deleting the entity cascades.
// (canonical_entity_id, alias_normalized) is unique among active aliases.
type Alias struct {
	ID                string    `json:"id"`
	CanonicalEntityID string    `json:"canonical_entity_id"`
	Alias             string    `json:"alias"`                 // Raw text as seen in a signal
	AliasNormalized   string    `json:"alias_normalized"`      // Always derived, never hand-edited
	AliasSource       string    `json:"alias_source"`          // manual, auto_detected, llm_auto_merge
	Confidence        float64   `json:"confidence"`
	SignalID          string    `json:"signal_id,omitempty"`   // Provenance: the signal the alias came from
	ConfirmedByHuman  bool      `json:"confirmed_by_human"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// ResolutionLogEntry is an append-only audit record written once per
// resolution attempt. It is used for accuracy evaluation and debugging,
// never for resolution decisions, and is never mutated after insert.
type ResolutionLogEntry struct {
	ID                 string           `json:"id"`
	MentionText        string           `json:"mention_text"`
	EntityType         string           `json:"entity_type"`
	SignalID           string           `json:"signal_id,omitempty"`
	ResolutionResult   ResolutionResult `json:"resolution_result"`
	ResolvedToEntityID string           `json:"resolved_to_entity_id,omitempty"`
	Confidence         float64          `json:"confidence"`
	MatchDetails       string           `json:"match_details,omitempty"` // Free-form description of the match path
	LLMReasoning       string           `json:"llm_reasoning,omitempty"` // Oracle reasoning text, when present
	ResolvedBy         string           `json:"resolved_by,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// FeedbackQueueItem is a pending human-review record for a medium-confidence
// match. Status starts "pending" and is mutated only by the external
// human-review collaborator.
type FeedbackQueueItem struct {
	ID            string    `json:"id"`
	MentionText   string    `json:"mention_text"`
	CandidateName string    `json:"candidate_name"` // Canonical name of the proposed match
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Reasoning     string    `json:"reasoning,omitempty"` // The semantic matcher's reasoning
	Confidence    float64   `json:"confidence"`
	Status        string    `json:"status"` // "pending" until a human acts
	CreatedAt     time.Time `json:"created_at"`
}

// FeedbackStatusPending is the initial status of every FeedbackQueueItem.
// All other statuses belong to the external review workflow.
const FeedbackStatusPending = "pending"
