// Package embedding defines the Embedding Adapter capability: mapping
// text to a fixed-dimension float vector via one of several pluggable
// providers, each recognized by a Variant tag fixed at construction
// time.
package embedding

import (
	"context"
	"math"
)

// Variant names one of the recognized embedding providers.
type Variant string

const (
	VariantRemoteLLM        Variant = "remote-llm"
	VariantLocalTransformer Variant = "local-transformer"
	VariantSimple           Variant = "simple"
)

// Embedder maps text to vectors. An Embedder instance is immutable for
// its lifetime: the same text always yields the same vector, and its
// Dimensions() never changes after construction. Switching the bound
// Variant on an existing store partition is a startup refusal, not an
// Embedder-level concern — see store.Store.
type Embedder interface {
	// Embed maps one piece of text to its vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch maps many texts to vectors. Implementations should
	// do at least as well as a loop over Embed; providers with native
	// batch endpoints use them here.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this adapter
	// produces.
	Dimensions() int

	// Variant identifies which provider this adapter is.
	Variant() Variant
}

// Normalize L2-normalizes vec in place semantics (returns a new slice)
// so every adapter produces unit vectors, matching the cosine-distance
// assumption the store and retriever make.
func Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
