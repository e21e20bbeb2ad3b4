// Package retrieval implements the Hybrid Retriever: blending vector
// similarity, importance, and recency to select a small, diverse
// context set for one query against one scope.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/store"
)

// overfetchMultiplier is C: the retriever over-fetches top_k*C
// candidates from the store so greedy diversity selection has headroom
// to discard near-duplicates.
const overfetchMultiplier = 3

const recencyHalfLifeFloor = 0.01

// Config is the per-call retrieval configuration. A process default
// is held by the Orchestrator; callers may override it per request,
// so Config is a plain value, never a mutable singleton.
type Config struct {
	TopK             int
	MinImportance    int
	ScoreThreshold   float64 // 0 means unset
	BoostRecent      bool
	BoostImportance  bool
	DiversityPenalty float64
}

// DefaultConfig holds the stated default topK and minimum importance.
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		MinImportance: 5,
	}
}

// Retriever selects fragments for a query against one scope.
type Retriever struct {
	store store.Store
	now   func() time.Time
}

// New builds a Retriever backed by st.
func New(st store.Store) *Retriever {
	return &Retriever{store: st, now: time.Now}
}

// candidate is a fragment carried alongside its similarity and the
// running hybrid score computed against it.
type candidate struct {
	fragment *core.MemoryFragment
	sim      float64
	final    float64
}

// Select runs the full retrieval algorithm: over-fetch, score,
// threshold, greedy diversity-penalized selection. The result never
// exceeds cfg.TopK, never contains a fragment below cfg.MinImportance,
// and never contains duplicates.
func (r *Retriever) Select(ctx context.Context, scope core.Scope, query string, cfg Config) ([]*core.MemoryFragment, error) {
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultConfig().TopK
	}

	filters := store.Filters{MinImportance: cfg.MinImportance}
	scored, err := r.store.Query(ctx, scope, query, topK*overfetchMultiplier, filters)
	if err != nil {
		return nil, err
	}

	candidates := make([]*candidate, 0, len(scored))
	now := r.now()
	for _, sf := range scored {
		importanceWeight := float64(sf.Fragment.ImportanceScore) / 10.0
		recency := recencyFactor(now.Sub(sf.Fragment.Timestamp))

		base := sf.Similarity
		if cfg.BoostImportance {
			base = 0.7*sf.Similarity + 0.3*importanceWeight
		}
		final := base
		if cfg.BoostRecent {
			final = base * recency
		}

		if cfg.ScoreThreshold > 0 && final < cfg.ScoreThreshold {
			continue
		}

		candidates = append(candidates, &candidate{
			fragment: sf.Fragment,
			sim:      sf.Similarity,
			final:    final,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].final > candidates[j].final
	})

	return greedySelect(candidates, topK, cfg.DiversityPenalty), nil
}

// recencyFactor implements a piecewise decay: full weight within 7
// days, exponential decay of 0.95 per day beyond that, floored so old
// fragments never reach exactly zero weight.
func recencyFactor(age time.Duration) float64 {
	ageDays := age.Hours() / 24.0
	if ageDays <= 7 {
		return 1.0
	}
	factor := math.Pow(0.95, ageDays-7)
	if factor < recencyHalfLifeFloor {
		return recencyHalfLifeFloor
	}
	return factor
}

// greedySelect admits candidates by descending final score, applying
// a diversity penalty proportional to the maximum cosine similarity
// against already-admitted fragments' embeddings, re-checking that the
// penalized candidate is still the current best before admitting it.
func greedySelect(candidates []*candidate, topK int, diversityPenalty float64) []*core.MemoryFragment {
	admitted := make([]*core.MemoryFragment, 0, topK)
	admittedVecs := make([][]float32, 0, topK)
	remaining := append([]*candidate(nil), candidates...)

	for len(admitted) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, c := range remaining {
			score := c.final
			if diversityPenalty > 0 && len(admittedVecs) > 0 {
				maxSim := maxCosineSimilarity(c.fragment.Embedding, admittedVecs)
				score = c.final - diversityPenalty*maxSim
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		chosen := remaining[bestIdx]
		admitted = append(admitted, chosen.fragment)
		admittedVecs = append(admittedVecs, chosen.fragment.Embedding)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return admitted
}

func maxCosineSimilarity(vec []float32, against [][]float32) float64 {
	max := 0.0
	for _, other := range against {
		if sim := cosineSimilarity(vec, other); sim > max {
			max = sim
		}
	}
	return max
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
