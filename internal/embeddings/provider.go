package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/utils"
)

// Provider produces vector embeddings for text. Implementations must be
// safe for concurrent use and must return vectors of exactly Dimension()
// elements in input order.
type Provider interface {
	Name() string
	Dimension() int
	// MaxTokens is the largest input the provider accepts per text.
	MaxTokens() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// FromEnv builds the provider selected by EMBEDDINGS_PROVIDER. The hash
// provider is the default so local and test environments need no API key.
func FromEnv(log *logger.Logger) (Provider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	name := strings.ToLower(utils.GetEnv("EMBEDDINGS_PROVIDER", "hash", log))
	switch name {
	case "hash":
		dim := utils.GetEnvAsInt("EMBEDDINGS_DIMENSION", DefaultDimension, log)
		return NewHashProvider(dim)
	case "openai":
		return NewOpenAIProvider(log)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", name)
	}
}
