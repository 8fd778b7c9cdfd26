// Package registry tracks which concepts, cognitive operations, and
// item texts have been consumed within a single assembly run. The
// biggest failure mode of large-scale generation is semantic monotony:
// the same concept or verb repeated across dozens of items. The
// registry forces lexical and conceptual rotation instead.
//
// A Registry lives for exactly one run. It is created by the engine,
// passed by reference through the pipeline stages, and discarded with
// the run; it has no persistence contract.
package registry

import (
	"regexp"
	"strings"

	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/similarity"
)

// conceptFacets is the fixed pool of concept angles handed out per
// topic. NextConcept walks it in order and wraps when exhausted, so
// very large runs keep drawing concepts instead of failing.
var conceptFacets = []string{
	"core definitions and terminology",
	"underlying principles",
	"practical applications",
	"common misconceptions",
	"relationships between components",
	"methods and procedures",
	"classification and types",
	"cause-and-effect mechanisms",
	"limitations and edge cases",
	"quantitative relationships",
	"historical development",
	"connections to adjacent topics",
}

var conceptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)concept of ([a-zA-Z][a-zA-Z \-']{3,40}?)[.,?]`),
	regexp.MustCompile(`"([^"]{4,40})"`),
	regexp.MustCompile(`(?i)(?:the|a) ([a-z][a-z\-]{3,} (?:law|principle|theorem|effect|model|method|process|cycle|rule))`),
}

type pairKey struct {
	topic string
	level model.CognitiveLevel
}

// fingerprintEntry keeps the normalized text signature of an accepted
// item, plus its embedding vector when one was available.
type fingerprintEntry struct {
	text string
	vec  []float64
}

// Registry is the run-scoped rotation and dedup state.
type Registry struct {
	usedConcepts   map[string][]string // topic -> concepts handed out or observed
	usedOperations map[pairKey][]string
	usedPairs      map[string]struct{} // concept + "|" + operation
	fingerprints   []fingerprintEntry
}

// New creates an empty registry for one assembly run.
func New() *Registry {
	return &Registry{
		usedConcepts:   make(map[string][]string),
		usedOperations: make(map[pairKey][]string),
		usedPairs:      make(map[string]struct{}),
	}
}

// NextConcept returns the first concept facet not yet used for the
// topic, marking it used. When the pool is exhausted it wraps around
// rather than failing.
func (r *Registry) NextConcept(topic string) string {
	used := r.usedConcepts[topic]
	for _, facet := range conceptFacets {
		if !contains(used, facet) {
			r.usedConcepts[topic] = append(used, facet)
			return facet
		}
	}
	// Pool exhausted: wrap, cycling by total draws for the topic.
	facet := conceptFacets[len(used)%len(conceptFacets)]
	r.usedConcepts[topic] = append(used, facet)
	return facet
}

// NextOperation returns the first cognitive-operation verb for the
// level not yet used for this topic×level pair, wrapping when the
// verb pool is exhausted.
func (r *Registry) NextOperation(topic string, level model.CognitiveLevel) string {
	key := pairKey{topic: topic, level: level}
	verbs := model.OperationVerbs(level)
	if len(verbs) == 0 {
		return ""
	}
	used := r.usedOperations[key]
	for _, v := range verbs {
		if !contains(used, v) {
			r.usedOperations[key] = append(used, v)
			return v
		}
	}
	v := verbs[len(used)%len(verbs)]
	r.usedOperations[key] = append(used, v)
	return v
}

// MarkPair records that a concept×operation combination was issued.
func (r *Registry) MarkPair(concept, operation string) {
	r.usedPairs[concept+"|"+operation] = struct{}{}
}

// SeenPair reports whether a concept×operation combination was issued
// earlier in the run.
func (r *Registry) SeenPair(concept, operation string) bool {
	_, ok := r.usedPairs[concept+"|"+operation]
	return ok
}

// Register records a filled item: its text fingerprint (and embedding
// vector, when present) for dedup and a best-effort extracted concept
// so later generation avoids it.
func (r *Registry) Register(topic string, level model.CognitiveLevel, item model.Item) {
	r.fingerprints = append(r.fingerprints, fingerprintEntry{
		text: fingerprint(item.Text),
		vec:  item.Embedding,
	})
	if concept := ExtractConcept(item.Text); concept != "" {
		if !contains(r.usedConcepts[topic], concept) {
			r.usedConcepts[topic] = append(r.usedConcepts[topic], concept)
		}
	}
}

// MaxSimilarity returns the highest similarity between the candidate
// and any fingerprint registered this run (0 when none). Cosine over
// embedding vectors takes precedence when both sides carry one; the
// lexical blend is the fallback.
func (r *Registry) MaxSimilarity(text string, vec []float64) float64 {
	fp := fingerprint(text)
	var max float64
	for _, prev := range r.fingerprints {
		if s := similarity.ScoreVectors(fp, vec, prev.text, prev.vec); s > max {
			max = s
		}
	}
	return max
}

// FingerprintCount returns how many texts have been registered.
func (r *Registry) FingerprintCount() int { return len(r.fingerprints) }

// ConceptsUsed returns the concepts consumed for a topic so far.
func (r *Registry) ConceptsUsed(topic string) []string {
	out := make([]string, len(r.usedConcepts[topic]))
	copy(out, r.usedConcepts[topic])
	return out
}

// ExtractConcept pulls a salient concept phrase out of item text via
// pattern matching. Returns "" when nothing matches; callers treat the
// extraction as best-effort.
func ExtractConcept(text string) string {
	for _, re := range conceptPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
	}
	return ""
}

// fingerprint normalizes text into the signature compared for
// near-duplicate detection.
func fingerprint(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
