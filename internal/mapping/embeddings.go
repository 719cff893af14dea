package mapping

import (
	"math"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rakunlabs/ingestcore/internal/schema"
)

// nonSemanticPrefixes are generic column-name prefixes stripped from a source
// field name before encoding.
var nonSemanticPrefixes = []string{"fld_", "col_", "txt_", "num_", "dt_", "cd_"}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// normalizeFieldName turns a source field name into a human-readable phrase
// for encoding: camelCase and snake_case are split into words and known
// non-semantic prefixes are removed.
func normalizeFieldName(name string) string {
	spaced := camelBoundary.ReplaceAllString(name, "$1 $2")
	spaced = strings.ReplaceAll(spaced, "_", " ")
	lower := strings.ToLower(spaced)

	for _, prefix := range nonSemanticPrefixes {
		trimmed := strings.TrimSuffix(prefix, "_")
		if strings.HasPrefix(lower, trimmed+" ") {
			lower = strings.TrimPrefix(lower, trimmed+" ")
			break
		}
	}

	return strings.TrimSpace(lower)
}

// vector is a dense embedding. Cosine similarity is the only operation
// callers need, so it stays an unexported float64 slice.
type vector []float64

// Embedder turns text into a dense vector. The production implementation is
// a deterministic bag-of-trigrams hash (see hashEmbedder below) since no
// hosted embedding model is reachable from this package; it is swappable so
// a real embedding client can be wired in later without touching callers.
type Embedder interface {
	Embed(text string) vector
}

// hashEmbedder is a deterministic, dependency-free text embedder: it hashes
// character trigrams into a fixed-width vector. It has no notion of
// healthcare terminology the way a trained biomedical embedding model would,
// but it gives consistent, comparable vectors for the normalized field names
// and canonical field descriptions this package encodes, which is enough for
// the candidate-shortlisting role the embedding stage plays upstream of the
// LLM rerank stage.
type hashEmbedder struct {
	dims int
}

func newHashEmbedder(dims int) *hashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &hashEmbedder{dims: dims}
}

func (h *hashEmbedder) Embed(text string) vector {
	v := make(vector, h.dims)
	padded := " " + strings.ToLower(text) + " "
	for i := 0; i+2 < len(padded); i++ {
		trigram := padded[i : i+3]
		idx := fnv32(trigram) % uint32(h.dims)
		v[idx]++
	}
	return normalize(v)
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func normalize(v vector) vector {
	var sumSquares float64
	for _, x := range v {
		sumSquares += x * x
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make(vector, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func cosineSimilarity(a, b vector) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

// Candidate is one embedding-similarity match against the canonical schema.
type Candidate struct {
	CanonicalField string
	Similarity     float64
}

// semanticMatcher encodes the canonical schema once and matches normalized
// source field names against it, caching encoded source vectors in an LRU so
// repeated fields across a large batch aren't re-embedded.
type semanticMatcher struct {
	embedder          Embedder
	canonicalFields   []string
	canonicalVectors  []vector
	sourceVectorCache *lru.Cache[string, vector]
}

func newSemanticMatcher(sch *schema.Schema, embedder Embedder, cacheSize int) (*semanticMatcher, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, vector](cacheSize)
	if err != nil {
		return nil, err
	}

	fields := sch.Fields()
	m := &semanticMatcher{
		embedder:          embedder,
		canonicalFields:   make([]string, len(fields)),
		canonicalVectors:  make([]vector, len(fields)),
		sourceVectorCache: cache,
	}

	for i, f := range fields {
		m.canonicalFields[i] = f.Name
		m.canonicalVectors[i] = embedder.Embed(canonicalFieldText(f))
	}

	return m, nil
}

// canonicalFieldText builds the "name | description | first-3-aliases"
// encoding input for one canonical field.
func canonicalFieldText(f schema.Field) string {
	parts := []string{
		strings.ReplaceAll(f.Name, "_", " "),
		f.Description,
	}
	for i, alias := range f.Aliases {
		if i >= 3 {
			break
		}
		parts = append(parts, strings.ReplaceAll(alias, "_", " "))
	}
	return strings.Join(parts, " | ")
}

// findCandidates returns the top-k canonical fields whose similarity to
// sourceField is at least minSimilarity, sorted by descending similarity.
func (m *semanticMatcher) findCandidates(sourceField string, topK int, minSimilarity float64) []Candidate {
	vec, ok := m.sourceVectorCache.Get(sourceField)
	if !ok {
		vec = m.embedder.Embed(normalizeFieldName(sourceField))
		m.sourceVectorCache.Add(sourceField, vec)
	}

	scored := make([]Candidate, 0, len(m.canonicalFields))
	for i, name := range m.canonicalFields {
		score := cosineSimilarity(vec, m.canonicalVectors[i])
		if score >= minSimilarity {
			scored = append(scored, Candidate{CanonicalField: name, Similarity: score})
		}
	}

	sortCandidatesDesc(scored)
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func sortCandidatesDesc(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Similarity > c[j-1].Similarity; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
