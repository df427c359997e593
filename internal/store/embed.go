package store

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultVectorSize is the dimension of HashEmbedder vectors.
const DefaultVectorSize = 256

// EmbedFunc turns text into a vector.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// HashEmbedder returns a deterministic feature-hashing embedder. Each
// lower-cased token adds to the bucket its hash selects, with the sign taken
// from a second hash bit; the vector is L2 normalized.
func HashEmbedder(size int) EmbedFunc {
	if size <= 0 {
		size = DefaultVectorSize
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, size)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, tok := range tokens {
			h := fnv.New64a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum64()
			sign := float32(1)
			if sum&(1<<63) != 0 {
				sign = -1
			}
			vec[sum%uint64(size)] += sign
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			// chromem and qdrant reject zero vectors under cosine distance.
			vec[0] = 1
			return vec, nil
		}
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
		return vec, nil
	}
}
