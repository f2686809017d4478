package embeddings

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/wandergen/wandergen-backend/internal/types"
)

// DefaultDimension matches text-embedding-3-small so the hash provider can
// stand in for the real one against the same vector column.
const DefaultDimension = 1536

// HashProvider derives a deterministic pseudo-embedding from the text
// itself. Identical input always yields identical vectors, which makes
// pipeline and retrieval behavior reproducible without any network call.
type HashProvider struct {
	dim int
}

func NewHashProvider(dim int) (*HashProvider, error) {
	if dim <= 0 {
		return nil, types.NewValidationError("dimension", "must be positive")
	}
	return &HashProvider{dim: dim}, nil
}

func (p *HashProvider) Name() string   { return "hash" }
func (p *HashProvider) Dimension() int { return p.dim }
func (p *HashProvider) MaxTokens() int { return 1 << 20 }

func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.vector(text), nil
}

func (p *HashProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// vector seeds a linear congruential generator with the FNV-1a hash of the
// text and expands it into a unit-length vector with components in [-1, 1].
func (p *HashProvider) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, p.dim)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		// Top 32 bits have the best statistical quality.
		v := float64(int32(state>>32)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
