package types

import "testing"

func TestIsValidEntityType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"customer", "customer", true},
		{"feature", "feature", true},
		{"issue", "issue", true},
		{"theme", "theme", true},
		{"unknown type", "organization", false},
		{"empty string", "", false},
		{"case sensitive", "Customer", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEntityType(tt.input); got != tt.want {
				t.Errorf("IsValidEntityType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidAliasSource(t *testing.T) {
	for _, src := range []string{AliasSourceManual, AliasSourceAutoDetected, AliasSourceLLMAutoMerge} {
		if !IsValidAliasSource(src) {
			t.Errorf("IsValidAliasSource(%q) = false, want true", src)
		}
	}
	if IsValidAliasSource("guessed") {
		t.Error("IsValidAliasSource(\"guessed\") = true, want false")
	}
}
