// Package lexical provides a deterministic, offline embedder based on
// feature hashing. It needs no model files and no network, so it is the
// default for local use and tests.
package lexical

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/becomeliminal/convmem/memory/textnorm"
)

const (
	wordWeight     = 1.0
	trigramWeight  = 0.5
	stopwordWeight = 0.1
)

// stopwords carry little meaning in Spanish or English prompts and are
// down-weighted so they do not dominate short texts.
var stopwords = map[string]struct{}{
	"a": {}, "al": {}, "con": {}, "de": {}, "del": {}, "el": {}, "en": {},
	"es": {}, "la": {}, "las": {}, "lo": {}, "los": {}, "para": {}, "por": {},
	"que": {}, "se": {}, "su": {}, "un": {}, "una": {}, "y": {},
	"an": {}, "and": {}, "for": {}, "in": {}, "is": {}, "of": {}, "on": {},
	"the": {}, "to": {}, "with": {},
}

// Embedder hashes folded words and their character trigrams into a fixed
// number of signed buckets. Texts that share words, or word stems, get
// similar vectors.
type Embedder struct {
	dimensions int
}

// New creates an embedder with 384 dimensions.
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates an embedder with the given vector size.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic unit vector from text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	for _, tok := range textnorm.Tokens(text) {
		w := float32(wordWeight)
		if _, ok := stopwords[tok]; ok {
			w = stopwordWeight
		}
		e.add(vec, "w:"+tok, w)

		r := []rune(" " + tok + " ")
		for i := 0; i+3 <= len(r); i++ {
			e.add(vec, "g:"+string(r[i:i+3]), w*trigramWeight)
		}
	}

	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := sum % uint64(e.dimensions)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// normalize converts embedding to unit vector. A text with no words maps to
// a fixed unit vector so the result is always usable for cosine similarity.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		vec[0] = 1
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
