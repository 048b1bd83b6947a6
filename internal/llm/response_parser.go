package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scrypster/entitylink/pkg/types"
)

// CandidateRefKind tags the way the oracle pointed at a candidate.
type CandidateRefKind int

const (
	// RefUnresolved means the oracle declined to match or the reference
	// could not be interpreted. Treated as "no match", never as an error.
	RefUnresolved CandidateRefKind = iota

	// RefByPosition means the oracle answered with the candidate's 1-based
	// position in the enumerated list.
	RefByPosition

	// RefByID means the oracle returned an identifier directly.
	RefByID

	// RefByName means the oracle returned a plain name string that must be
	// matched against candidate names and aliases as a last resort.
	RefByName
)

// CandidateRef is the tagged parse result for the oracle's entity reference.
// It is resolved deterministically against the candidate list before any
// routing decision is made.
type CandidateRef struct {
	Kind     CandidateRefKind
	Position int    // set when Kind == RefByPosition
	ID       string // set when Kind == RefByID
	Name     string // set when Kind == RefByName
}

// MatchResponse is the parsed form of an oracle match answer.
type MatchResponse struct {
	Ref              CandidateRef
	Confidence       float64
	Reasoning        string
	SuggestedAliases []string
}

// CanonicalFormResponse is the parsed form of a canonical-name answer.
type CanonicalFormResponse struct {
	CanonicalName string `json:"canonical_name"`
}

// ClassificationResponse is the parsed form of an entity-type answer.
type ClassificationResponse struct {
	EntityType string  `json:"entity_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// extractJSON extracts the first balanced JSON object from a string that may
// contain extra text. This handles models adding explanations before/after
// the JSON and wrapping it in formatting fences despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let the parser fail
	}

	// Find the matching closing brace, respecting quoted-string escaping.
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON object found, return as-is
}

// rawMatchResponse mirrors the oracle's match JSON with the entity reference
// left raw, because models answer with a list position, an id string, or a
// hallucinated name interchangeably.
type rawMatchResponse struct {
	MatchedEntityID  json.RawMessage `json:"matched_entity_id"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	SuggestedAliases []string        `json:"suggested_aliases"`
}

// ParseMatchResponse parses an oracle match answer. The entity reference is
// classified into a CandidateRef; anything uninterpretable becomes
// RefUnresolved rather than an error. An error is returned only when the
// response contains no parseable JSON object at all.
func ParseMatchResponse(text string) (*MatchResponse, error) {
	cleanJSON := extractJSON(text)

	var raw rawMatchResponse
	if err := json.Unmarshal([]byte(cleanJSON), &raw); err != nil {
		// Fall back to a direct full-text parse in case extraction mangled
		// an otherwise valid payload.
		if err2 := json.Unmarshal([]byte(text), &raw); err2 != nil {
			return nil, fmt.Errorf("failed to parse match JSON: %w", err)
		}
	}

	resp := &MatchResponse{
		Ref:              classifyRef(raw.MatchedEntityID),
		Confidence:       clamp01(raw.Confidence),
		Reasoning:        raw.Reasoning,
		SuggestedAliases: raw.SuggestedAliases,
	}
	return resp, nil
}

// classifyRef interprets the raw matched_entity_id value.
func classifyRef(raw json.RawMessage) CandidateRef {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return CandidateRef{Kind: RefUnresolved}
	}

	// Numeric answer: a 1-based list position.
	var position int
	if err := json.Unmarshal(raw, &position); err == nil {
		if position < 1 {
			return CandidateRef{Kind: RefUnresolved}
		}
		return CandidateRef{Kind: RefByPosition, Position: position}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return CandidateRef{Kind: RefUnresolved}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return CandidateRef{Kind: RefUnresolved}
	}

	// A numeric string is still a position.
	if err := json.Unmarshal([]byte(s), &position); err == nil {
		if position < 1 {
			return CandidateRef{Kind: RefUnresolved}
		}
		return CandidateRef{Kind: RefByPosition, Position: position}
	}

	// UUID-shaped strings are identifiers; everything else is a name the
	// oracle echoed back.
	if _, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return CandidateRef{Kind: RefByID, ID: s}
	}
	return CandidateRef{Kind: RefByName, Name: s}
}

// ResolveRef maps a CandidateRef back to a concrete candidate. The returned
// bool reports whether the reference resolved. A RefByID that matches no
// candidate falls back to name matching with the same string, per the
// last-resort rule for hallucinated output.
func ResolveRef(ref CandidateRef, candidates []Candidate) (Candidate, bool) {
	switch ref.Kind {
	case RefByPosition:
		if ref.Position >= 1 && ref.Position <= len(candidates) {
			return candidates[ref.Position-1], true
		}
	case RefByID:
		for _, c := range candidates {
			if c.ID == ref.ID {
				return c, true
			}
		}
		return resolveByName(ref.ID, candidates)
	case RefByName:
		return resolveByName(ref.Name, candidates)
	}
	return Candidate{}, false
}

// resolveByName matches a returned string against candidate canonical names
// and aliases case-insensitively.
func resolveByName(name string, candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
		for _, alias := range c.Aliases {
			if strings.EqualFold(alias, name) {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

// ParseCanonicalFormResponse parses a canonical-name answer. It returns an
// error when the JSON is malformed or the name is implausible (empty, or
// trimmed length outside [2,100] characters); callers fall back to the
// deterministic title-case transform.
func ParseCanonicalFormResponse(text string) (*CanonicalFormResponse, error) {
	cleanJSON := extractJSON(text)

	var resp CanonicalFormResponse
	if err := json.Unmarshal([]byte(cleanJSON), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse canonical form JSON: %w", err)
	}

	resp.CanonicalName = strings.TrimSpace(resp.CanonicalName)
	if n := utf8.RuneCountInString(resp.CanonicalName); n < 2 || n > 100 {
		return nil, fmt.Errorf("implausible canonical name %q (length %d)", resp.CanonicalName, n)
	}

	return &resp, nil
}

// ParseClassificationResponse parses an entity-type answer. It returns an
// error when the JSON is malformed, the type is unrecognized, or the
// confidence is out of range; callers substitute the safe default
// (issue, 0.5) rather than blocking pipeline progress.
func ParseClassificationResponse(text string) (*ClassificationResponse, error) {
	cleanJSON := extractJSON(text)

	var resp ClassificationResponse
	if err := json.Unmarshal([]byte(cleanJSON), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}

	resp.EntityType = strings.ToLower(strings.TrimSpace(resp.EntityType))
	if !types.IsValidEntityType(resp.EntityType) {
		return nil, fmt.Errorf("invalid entity type: %q (must be one of: customer, feature, issue, theme)", resp.EntityType)
	}
	if resp.Confidence < 0.0 || resp.Confidence > 1.0 {
		return nil, fmt.Errorf("invalid confidence score: %f (must be 0.0-1.0)", resp.Confidence)
	}

	return &resp, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
