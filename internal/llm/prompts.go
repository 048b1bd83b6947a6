// Package llm provides the semantic-matching oracle for entity resolution:
// LLM transport clients, strict JSON-only prompt templates, and response
// parsers that tolerate the malformed output real models produce.
package llm

import (
	"fmt"
	"strings"
)

// Candidate is one entry of the enumerated candidate list presented to the
// oracle. Position in the slice determines the 1-based number the oracle may
// answer with.
type Candidate struct {
	ID      string
	Name    string
	Aliases []string
}

// entityTypeDescriptions maps resolver entity types to brief descriptions for prompts.
var entityTypeDescriptions = map[string]string{
	"customer": "Company or account mentioned as a customer",
	"feature":  "Product feature or capability",
	"issue":    "Bug, defect, or problem report",
	"theme":    "Recurring topic or trend across signals",
}

// maxContextChars bounds how much signal text is embedded in a prompt.
const maxContextChars = 1500

// MatchEntityPrompt builds a strict JSON-only prompt asking the oracle whether
// the mention refers to one of the enumerated candidates. Candidates are
// numbered from 1 and listed with their known aliases.
func MatchEntityPrompt(mention, entityType string, candidates []Candidate, contextText string) string {
	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, "%d. %s", i+1, c.Name)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&list, " (also known as: %s)", strings.Join(c.Aliases, ", "))
		}
		list.WriteString("\n")
	}

	return fmt.Sprintf(`TASK: Decide whether the mention below refers to one of the known %s entities.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

MENTION: %q

KNOWN ENTITIES:
%s
CONTEXT (the text the mention appeared in):
%s

REQUIRED JSON STRUCTURE:
{"matched_entity_id": <number of the matching entity, or null if none match>,
 "confidence": <0.0-1.0>,
 "reasoning": "<one sentence>",
 "suggested_aliases": ["<other spellings of the mention you are confident about>"]}

VALIDATION (STRICT):
1. Start with { - End with }
2. matched_entity_id is the NUMBER from the list above, or null
3. Confidence 0.0-1.0
4. No trailing commas, valid JSON syntax

RESPOND WITH ONLY THE JSON OBJECT:`, entityType, mention, list.String(), truncate(contextText, maxContextChars))
}

// CanonicalFormPrompt builds a strict JSON-only prompt asking the oracle for
// the canonical display form of a brand-new mention.
func CanonicalFormPrompt(mention, entityType, contextText string) string {
	return fmt.Sprintf(`TASK: Produce the canonical display name for a new %s mentioned in a signal.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

MENTION: %q

CONTEXT:
%s

Rules: expand obvious abbreviations, fix casing, drop trailing punctuation.
Keep it short - a name, not a description.

RESPOND WITH ONLY THIS JSON STRUCTURE:
{"canonical_name": "<the canonical display form>"}`, entityType, mention, truncate(contextText, maxContextChars))
}

// ClassifyEntityTypePrompt builds a strict JSON-only prompt asking the oracle
// to classify an unlabeled mention into one of the four resolver entity types.
func ClassifyEntityTypePrompt(mention, contextText string) string {
	var typeList strings.Builder
	for _, t := range []string{"customer", "feature", "issue", "theme"} {
		fmt.Fprintf(&typeList, "- %s: %s\n", t, entityTypeDescriptions[t])
	}

	return fmt.Sprintf(`TASK: Classify the mention into exactly one entity type.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

MENTION: %q

ENTITY TYPES (ONLY these 4):
%s
CONTEXT:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE:
{"entity_type": "customer|feature|issue|theme", "confidence": 0.0, "reasoning": "<one sentence>"}`, mention, typeList.String(), truncate(contextText, maxContextChars))
}

// truncate shortens s to at most n characters, appending an ellipsis marker
// when content was dropped.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + " [...]"
}
