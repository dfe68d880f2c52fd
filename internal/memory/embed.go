package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const embeddingDim = 256

// lexicalEmbedding maps text to a normalized hashed bag-of-words vector. It
// is deliberately self-contained: reflection retrieval keeps working without
// any embedding service, at the cost of lexical rather than semantic
// similarity.
func lexicalEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// chromem requires a non-zero vector; one stable component keeps
		// degenerate inputs queryable.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
