// Package simple implements the "simple" embedding variant: a
// deterministic hash-of-tokens vector with no network dependency.
// Refused at startup in production mode.
package simple

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/nimlabs/memoria/embedding"
)

// Embedder generates deterministic embeddings from a text hash. Equal
// input text always produces the equal output vector, for the
// lifetime of one Embedder instance and across restarts (the hash
// seed depends only on the text, not on process state).
type Embedder struct {
	dimensions int
}

// New creates a simple embedder producing vectors of the given
// dimension. A dimension of 0 defaults to 512.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &Embedder{dimensions: dimension}
}

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	for i := range vec {
		// Linear congruential generator with Knuth's MMIX 64-bit
		// constants: deterministic given seed.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return embedding.Normalize(vec), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Variant() embedding.Variant { return embedding.VariantSimple }
