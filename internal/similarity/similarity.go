// Package similarity scores the closeness of two item texts in [0,1].
// When both texts carry precomputed embedding vectors the score is the
// cosine of those vectors; otherwise a lexical blend of word-level and
// bigram Jaccard overlap is used. Bigram overlap carries the larger
// weight because phrase-level paraphrase is the most common
// near-duplicate pattern in generated items.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

const (
	wordWeight   = 0.4
	bigramWeight = 0.6

	// minTokenLen drops short function words before comparison.
	minTokenLen = 4
)

// Score returns the lexical similarity of two texts in [0,1].
// Symmetric; degenerate inputs score 0.
func Score(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	word := jaccard(toSet(ta), toSet(tb))
	bg := jaccard(toSet(bigrams(ta)), toSet(bigrams(tb)))
	return wordWeight*word + bigramWeight*bg
}

// Cosine returns the cosine similarity of two embedding vectors,
// clamped to [0,1]. Mismatched or empty vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, cos))
}

// ScoreVectors prefers cosine similarity when both vectors are present
// and falls back to the lexical blend otherwise.
func ScoreVectors(aText string, aVec []float64, bText string, bVec []float64) float64 {
	if len(aVec) > 0 && len(aVec) == len(bVec) {
		return Cosine(aVec, bVec)
	}
	return Score(aText, bText)
}

// tokenize lowercases, strips punctuation, and keeps tokens longer
// than three runes, preserving order for bigram extraction.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	grams := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		grams = append(grams, tokens[i]+" "+tokens[i+1])
	}
	return grams
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
