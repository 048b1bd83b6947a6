package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/entitylink/internal/normalize"
	"github.com/scrypster/entitylink/pkg/types"
)

// maxMatchCandidates caps how many candidates are presented to the oracle in
// one match prompt. Callers pre-rank candidates; anything past the cap is
// silently dropped.
const maxMatchCandidates = 10

// MatchResult is the outcome of one semantic match call. A nil EntityID means
// no match; Confidence and Reasoning are still populated.
type MatchResult struct {
	EntityID         *string
	Confidence       float64
	Reasoning        string
	SuggestedAliases []string
}

// EntityMatcher wraps a text generator into the three oracle operations the
// resolver needs. All failure modes degrade to deterministic fallbacks so a
// misbehaving model can slow resolution but never wedge it.
type EntityMatcher struct {
	generator TextGenerator
}

// NewEntityMatcher creates a matcher over the given text generator.
func NewEntityMatcher(generator TextGenerator) *EntityMatcher {
	return &EntityMatcher{generator: generator}
}

// MatchEntity asks the oracle whether mention refers to one of the candidates.
// An empty candidate list short-circuits to a no-match result without calling
// the oracle. Unparseable or unresolvable answers become no-match results,
// never errors; the only error return is a transport failure.
func (m *EntityMatcher) MatchEntity(ctx context.Context, mention, entityType string, candidates []Candidate, contextText string) (*MatchResult, error) {
	if len(candidates) == 0 {
		return &MatchResult{
			EntityID:         nil,
			Confidence:       0,
			Reasoning:        "No candidates provided",
			SuggestedAliases: []string{},
		}, nil
	}
	if len(candidates) > maxMatchCandidates {
		candidates = candidates[:maxMatchCandidates]
	}

	prompt := MatchEntityPrompt(mention, entityType, candidates, contextText)
	response, err := m.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm: match call failed: %w", err)
	}

	parsed, err := ParseMatchResponse(response)
	if err != nil {
		log.Printf("llm: unparseable match response for %q: %v", mention, err)
		return &MatchResult{
			EntityID:   nil,
			Confidence: 0,
			Reasoning:  "Unparseable model response",
		}, nil
	}

	matched, ok := ResolveRef(parsed.Ref, candidates)
	if !ok {
		reasoning := parsed.Reasoning
		if parsed.Ref.Kind != RefUnresolved {
			log.Printf("llm: match response for %q referenced an unknown candidate", mention)
			reasoning = "Model referenced an unknown candidate"
		}
		return &MatchResult{
			EntityID:         nil,
			Confidence:       0,
			Reasoning:        reasoning,
			SuggestedAliases: parsed.SuggestedAliases,
		}, nil
	}

	id := matched.ID
	return &MatchResult{
		EntityID:         &id,
		Confidence:       parsed.Confidence,
		Reasoning:        parsed.Reasoning,
		SuggestedAliases: parsed.SuggestedAliases,
	}, nil
}

// ExtractCanonicalForm asks the oracle for the canonical display name of a
// new mention. On transport failure, unparseable output, or an implausible
// name it falls back to a deterministic title-case transform of the mention.
func (m *EntityMatcher) ExtractCanonicalForm(ctx context.Context, mention, entityType, contextText string) string {
	fallback := normalize.TitleCase(mention)

	prompt := CanonicalFormPrompt(mention, entityType, contextText)
	response, err := m.generator.Complete(ctx, prompt)
	if err != nil {
		log.Printf("llm: canonical form call failed for %q, using fallback: %v", mention, err)
		return fallback
	}

	parsed, err := ParseCanonicalFormResponse(response)
	if err != nil {
		log.Printf("llm: rejected canonical form for %q, using fallback: %v", mention, err)
		return fallback
	}
	return parsed.CanonicalName
}

// ClassifyEntityType asks the oracle to classify an unlabeled mention into
// one of the resolver entity types. Any failure yields the conservative
// default (issue, 0.5) so an unlabeled mention is routed to review-leaning
// handling instead of being dropped.
func (m *EntityMatcher) ClassifyEntityType(ctx context.Context, mention, contextText string) (entityType string, confidence float64) {
	prompt := ClassifyEntityTypePrompt(mention, contextText)
	response, err := m.generator.Complete(ctx, prompt)
	if err != nil {
		log.Printf("llm: classification call failed for %q, defaulting to issue: %v", mention, err)
		return types.EntityTypeIssue, 0.5
	}

	parsed, err := ParseClassificationResponse(response)
	if err != nil {
		log.Printf("llm: rejected classification for %q, defaulting to issue: %v", mention, err)
		return types.EntityTypeIssue, 0.5
	}
	return parsed.EntityType, parsed.Confidence
}

// CandidateFromEntity converts a stored entity plus its aliases into a prompt
// candidate. The canonical name itself is excluded from the alias list to
// avoid repeating it in the prompt.
func CandidateFromEntity(e *types.CanonicalEntity) Candidate {
	aliases := make([]string, 0, len(e.Aliases))
	for _, a := range e.Aliases {
		if strings.EqualFold(a.Alias, e.CanonicalName) {
			continue
		}
		aliases = append(aliases, a.Alias)
	}
	return Candidate{ID: e.ID, Name: e.CanonicalName, Aliases: aliases}
}
