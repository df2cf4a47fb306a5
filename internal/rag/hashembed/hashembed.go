// Package hashembed is a deterministic, dependency-free embedding provider.
// Texts are tokenized, stop words dropped, tokens stemmed to a short prefix
// and hashed into a fixed number of buckets. Texts sharing word stems get a
// high cosine similarity, which is enough for offline development and tests.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const stemLength = 4

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "about": {}, "is": {}, "are": {},
	"was": {}, "be": {}, "it": {}, "this": {}, "that": {}, "i": {}, "my": {}, "me": {},
}

// Provider implements the rag EmbeddingProvider contract.
type Provider struct {
	dimension int
	calls     int
}

// New creates a provider producing vectors of the given dimension.
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = 384
	}
	return &Provider{dimension: dimension}
}

func (p *Provider) Name() string   { return "hash" }
func (p *Provider) Dimension() int { return p.dimension }

// EmbedBatch embeds each text independently.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.Vector(t)
	}
	return out, nil
}

// Calls returns how many batches were embedded. Not safe for concurrent use.
func (p *Provider) Calls() int { return p.calls }

// Vector returns the unit-length embedding of text.
func (p *Provider) Vector(text string) []float32 {
	vec := make([]float64, p.dimension)
	tokens := Tokens(text)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(p.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, p.dimension)
	if norm == 0 {
		// Texts made only of stop words still need a valid direction.
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// Tokens lower-cases, splits on non-alphanumerics, drops stop words and
// truncates each token to its stem prefix.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if r := []rune(f); len(r) > stemLength {
			f = string(r[:stemLength])
		}
		out = append(out, f)
	}
	return out
}
