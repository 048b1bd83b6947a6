// Package types defines the core data structures for the entitylink
// resolution system. These types represent canonical entities, their aliases,
// resolution audit records, and the human-review feedback queue.
package types

// ResolutionResult represents the terminal outcome of a resolution attempt.
type ResolutionResult string

// Resolution outcome constants. Every resolution call terminates in exactly
// one of these states.
const (
	// ResolutionAliasMatched indicates the mention matched an existing alias
	// or canonical name exactly (after normalization).
	ResolutionAliasMatched ResolutionResult = "alias_matched"

	// ResolutionAutoMerged indicates a high-confidence match; the mention was
	// attached to the entity as a new alias without human involvement.
	ResolutionAutoMerged ResolutionResult = "auto_merged"

	// ResolutionHumanReview indicates a medium-confidence match that was
	// deferred to a person via the feedback queue.
	ResolutionHumanReview ResolutionResult = "human_review"

	// ResolutionNewEntity indicates no acceptable match was found and a new
	// canonical entity was created.
	ResolutionNewEntity ResolutionResult = "new_entity"
)

// Entity type constants - the four types the resolver distinguishes.
const (
	EntityTypeCustomer = "customer"
	EntityTypeFeature  = "feature"
	EntityTypeIssue    = "issue"
	EntityTypeTheme    = "theme"
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []string{
	EntityTypeCustomer,
	EntityTypeFeature,
	EntityTypeIssue,
	EntityTypeTheme,
}

// IsValidEntityType reports whether the given string is a recognized entity type.
func IsValidEntityType(t string) bool {
	for _, valid := range ValidEntityTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Alias source constants - how an alias came to be attached to an entity.
const (
	// AliasSourceManual indicates the alias was entered by a human.
	AliasSourceManual = "manual"

	// AliasSourceAutoDetected indicates the alias was detected by the
	// ingestion pipeline (e.g. the canonical name inserted at creation time).
	AliasSourceAutoDetected = "auto_detected"

	// AliasSourceLLMAutoMerge indicates the alias was attached by a
	// high-confidence semantic match.
	AliasSourceLLMAutoMerge = "llm_auto_merge"
)

// IsValidAliasSource reports whether the given string is a recognized alias source.
func IsValidAliasSource(s string) bool {
	switch s {
	case AliasSourceManual, AliasSourceAutoDetected, AliasSourceLLMAutoMerge:
		return true
	}
	return false
}
