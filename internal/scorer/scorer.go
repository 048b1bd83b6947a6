// Package scorer computes local match scores between a mention and a
// candidate entity name. It is the fallback matching strategy used when the
// semantic oracle is unavailable or declines to answer.
package scorer

import (
	"math"
	"strings"

	"github.com/scrypster/entitylink/internal/normalize"
)

// Composite weights. Embedding similarity carries more weight than string
// similarity when an embedding comparison is available, since it captures
// semantic closeness that edit distance misses. Each weight set sums to 1.0
// so the composite stays in [0,1], and every coefficient is non-negative so
// the composite is monotonic in each input.
const (
	weightStringOnly = 0.90

	weightStringWithEmbedding = 0.35
	weightEmbedding           = 0.55

	weightTypeMatch = 0.10
)

// Input describes one mention/candidate comparison.
type Input struct {
	NameA string
	NameB string

	// EmbeddingSimilarity is the cosine similarity of the two names'
	// embeddings, when both are available. Nil means no embedding
	// comparison was possible.
	EmbeddingSimilarity *float64

	// TypeMatch reports whether the mention's entity type matches the
	// candidate's.
	TypeMatch bool
}

// Score is the result of one comparison. CompositeScore is the routing
// value; the components are kept for match_details logging.
type Score struct {
	StringSimilarity    float64
	EmbeddingSimilarity *float64
	TypeMatch           bool
	CompositeScore      float64
}

// Compute scores a mention/candidate pair. Names are normalized before
// comparison so casing and punctuation differences never affect the score.
func Compute(in Input) Score {
	s := Score{
		StringSimilarity:    StringSimilarity(in.NameA, in.NameB),
		EmbeddingSimilarity: in.EmbeddingSimilarity,
		TypeMatch:           in.TypeMatch,
	}

	var composite float64
	if in.EmbeddingSimilarity != nil {
		emb := clamp01(*in.EmbeddingSimilarity)
		composite = weightStringWithEmbedding*s.StringSimilarity + weightEmbedding*emb
	} else {
		composite = weightStringOnly * s.StringSimilarity
	}
	if in.TypeMatch {
		composite += weightTypeMatch
	}

	s.CompositeScore = clamp01(composite)
	return s
}

// StringSimilarity returns a lexical similarity in [0,1] between two names.
// It takes the better of a normalized edit-distance ratio and a token-overlap
// ratio, so both near-misspellings ("Acme Crop") and word-subset mentions
// ("Acme" vs "Acme Corporation") score high.
func StringSimilarity(a, b string) float64 {
	na := normalize.Normalize(a)
	nb := normalize.Normalize(b)
	if na == "" || nb == "" {
		if na == nb {
			return 1.0
		}
		return 0.0
	}
	if na == nb {
		return 1.0
	}

	return math.Max(editSimilarity(na, nb), tokenOverlap(na, nb))
}

// editSimilarity is 1 - levenshtein(a,b)/max(len(a),len(b)).
func editSimilarity(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// tokenOverlap is the Jaccard similarity of the two names' token sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [0,1]. Mismatched lengths or zero vectors return 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
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

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
