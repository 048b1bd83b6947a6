package llm

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "clean JSON",
			input:    `{"matched_entity_id": 1, "confidence": 0.9}`,
			expected: `{"matched_entity_id": 1, "confidence": 0.9}`,
		},
		{
			name:     "JSON in code fence",
			input:    "```json\n{\"matched_entity_id\": null}\n```",
			expected: `{"matched_entity_id": null}`,
		},
		{
			name:     "prose before and after",
			input:    `Sure, here is the answer: {"confidence": 0.5} Hope that helps!`,
			expected: `{"confidence": 0.5}`,
		},
		{
			name:     "nested objects",
			input:    `prefix {"a": {"b": {"c": 1}}} suffix`,
			expected: `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:     "braces inside strings ignored",
			input:    `{"reasoning": "uses {curly} notation"}`,
			expected: `{"reasoning": "uses {curly} notation"}`,
		},
		{
			name:     "escaped quote inside string",
			input:    `{"reasoning": "said \"{hello}\" twice"}`,
			expected: `{"reasoning": "said \"{hello}\" twice"}`,
		},
		{
			name:     "first object wins",
			input:    `{"a": 1} {"b": 2}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "no JSON returns input",
			input:    "no json here",
			expected: "no json here",
		},
		{
			name:     "unbalanced returns input",
			input:    `{"a": 1`,
			expected: `{"a": 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.input)
			if got != tt.expected {
				t.Errorf("extractJSON() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseMatchResponse(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantErr      bool
		wantKind     CandidateRefKind
		wantPosition int
		wantID       string
		wantName     string
		wantConf     float64
	}{
		{
			name:     "position match",
			input:    `{"matched_entity_id": 2, "confidence": 0.92, "reasoning": "same company"}`,
			wantKind: RefByPosition, wantPosition: 2, wantConf: 0.92,
		},
		{
			name:     "numeric string is a position",
			input:    `{"matched_entity_id": "3", "confidence": 0.8}`,
			wantKind: RefByPosition, wantPosition: 3, wantConf: 0.8,
		},
		{
			name:     "null means no match",
			input:    `{"matched_entity_id": null, "confidence": 0.1, "reasoning": "different entity"}`,
			wantKind: RefUnresolved, wantConf: 0.1,
		},
		{
			name:     "absent means no match",
			input:    `{"confidence": 0.2}`,
			wantKind: RefUnresolved, wantConf: 0.2,
		},
		{
			name:     "uuid string is an id",
			input:    `{"matched_entity_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "confidence": 0.95}`,
			wantKind: RefByID, wantID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", wantConf: 0.95,
		},
		{
			name:     "plain string is a name",
			input:    `{"matched_entity_id": "Acme Corporation", "confidence": 0.88}`,
			wantKind: RefByName, wantName: "Acme Corporation", wantConf: 0.88,
		},
		{
			name:     "zero position unresolved",
			input:    `{"matched_entity_id": 0, "confidence": 0.7}`,
			wantKind: RefUnresolved, wantConf: 0.7,
		},
		{
			name:     "confidence clamped above one",
			input:    `{"matched_entity_id": 1, "confidence": 1.4}`,
			wantKind: RefByPosition, wantPosition: 1, wantConf: 1.0,
		},
		{
			name:     "fenced response",
			input:    "```json\n{\"matched_entity_id\": 1, \"confidence\": 0.9}\n```",
			wantKind: RefByPosition, wantPosition: 1, wantConf: 0.9,
		},
		{
			name:    "no JSON at all",
			input:   "I could not find a match, sorry.",
			wantErr: true,
		},
		{
			name:    "truncated JSON",
			input:   `{"matched_entity_id": 1, "confi`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMatchResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Ref.Kind != tt.wantKind {
				t.Errorf("Ref.Kind = %v, want %v", got.Ref.Kind, tt.wantKind)
			}
			if got.Ref.Position != tt.wantPosition {
				t.Errorf("Ref.Position = %d, want %d", got.Ref.Position, tt.wantPosition)
			}
			if got.Ref.ID != tt.wantID {
				t.Errorf("Ref.ID = %q, want %q", got.Ref.ID, tt.wantID)
			}
			if got.Ref.Name != tt.wantName {
				t.Errorf("Ref.Name = %q, want %q", got.Ref.Name, tt.wantName)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %f, want %f", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestResolveRef(t *testing.T) {
	candidates := []Candidate{
		{ID: "id-aaa", Name: "Acme Corporation", Aliases: []string{"acme", "ACME Inc"}},
		{ID: "id-bbb", Name: "Globex", Aliases: nil},
	}

	tests := []struct {
		name   string
		ref    CandidateRef
		wantID string
		wantOK bool
	}{
		{"position 1", CandidateRef{Kind: RefByPosition, Position: 1}, "id-aaa", true},
		{"position 2", CandidateRef{Kind: RefByPosition, Position: 2}, "id-bbb", true},
		{"position out of range", CandidateRef{Kind: RefByPosition, Position: 3}, "", false},
		{"id exact", CandidateRef{Kind: RefByID, ID: "id-bbb"}, "id-bbb", true},
		{"unknown id falls back to name", CandidateRef{Kind: RefByID, ID: "globex"}, "id-bbb", true},
		{"unknown id no name match", CandidateRef{Kind: RefByID, ID: "id-zzz"}, "", false},
		{"name case insensitive", CandidateRef{Kind: RefByName, Name: "acme corporation"}, "id-aaa", true},
		{"alias match", CandidateRef{Kind: RefByName, Name: "ACME INC"}, "id-aaa", true},
		{"name miss", CandidateRef{Kind: RefByName, Name: "Initech"}, "", false},
		{"unresolved", CandidateRef{Kind: RefUnresolved}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveRef(tt.ref, candidates)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("resolved ID = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestParseCanonicalFormResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", `{"canonical_name": "Acme Corporation"}`, "Acme Corporation", false},
		{"trims whitespace", `{"canonical_name": "  Globex  "}`, "Globex", false},
		{"fenced", "```json\n{\"canonical_name\": \"Initech\"}\n```", "Initech", false},
		{"too short", `{"canonical_name": "A"}`, "", true},
		{"empty", `{"canonical_name": ""}`, "", true},
		{"too long", `{"canonical_name": "` + strings.Repeat("x", 101) + `"}`, "", true},
		{"exactly 100 ok", `{"canonical_name": "` + strings.Repeat("x", 100) + `"}`, strings.Repeat("x", 100), false},
		{"length counts runes not bytes", `{"canonical_name": "` + strings.Repeat("株", 60) + `"}`, strings.Repeat("株", 60), false},
		{"101 runes rejected", `{"canonical_name": "` + strings.Repeat("株", 101) + `"}`, "", true},
		{"malformed", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCanonicalFormResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.CanonicalName != tt.want {
				t.Errorf("CanonicalName = %q, want %q", got.CanonicalName, tt.want)
			}
		})
	}
}

func TestParseClassificationResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantConf float64
		wantErr  bool
	}{
		{"valid", `{"entity_type": "customer", "confidence": 0.9, "reasoning": "company name"}`, "customer", 0.9, false},
		{"uppercase normalized", `{"entity_type": "FEATURE", "confidence": 0.7}`, "feature", 0.7, false},
		{"unknown type", `{"entity_type": "person", "confidence": 0.9}`, "", 0, true},
		{"confidence out of range", `{"entity_type": "issue", "confidence": 1.5}`, "", 0, true},
		{"malformed", `oops`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassificationResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.EntityType != tt.wantType {
				t.Errorf("EntityType = %q, want %q", got.EntityType, tt.wantType)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %f, want %f", got.Confidence, tt.wantConf)
			}
		})
	}
}
