package adapter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"caregraph/backend/pkg/config"
	apperrors "caregraph/backend/pkg/errors"
)

// Embedder maps texts to fixed-length unit vectors, one per text in input order.
// An Embedder is acquired once per run and released with Close.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Close() error
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const maxRetries = 3

// NewEmbedder creates the embedder selected by configuration
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaParams{
			BaseURL:        cfg.EmbeddingBaseURL,
			APIKey:         cfg.EmbeddingAPIKey,
			Model:          cfg.EmbeddingModel,
			Dimension:      cfg.EmbeddingDimension,
			MaxConcurrency: int64(cfg.EmbeddingMaxConcurrency),
		})
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIParams{
			BaseURL:        cfg.EmbeddingBaseURL,
			APIKey:         cfg.EmbeddingAPIKey,
			Model:          cfg.EmbeddingModel,
			Dimension:      cfg.EmbeddingDimension,
			MaxConcurrency: int64(cfg.EmbeddingMaxConcurrency),
		}), nil
	default:
		return nil, apperrors.NewConfigValidationFailed("EMBEDDING_PROVIDER", fmt.Sprintf("unsupported provider %q", cfg.EmbeddingProvider))
	}
}

// withRetry calls fn up to maxRetries times with linear backoff.
func withRetry(ctx context.Context, log *zap.Logger, model string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			log.Warn("Retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return apperrors.NewContextCancelled("embedding", ctx.Err())
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.NewContextCancelled("embedding", ctx.Err())
		}

		log.Error("Embedding request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
		)
	}
	return apperrors.NewEmbeddingFailed(model, maxRetries, err)
}

// finalize checks the batch shape and scales every vector to unit length
func finalize(vectors [][]float32, texts int, dim int) ([][]float32, error) {
	if len(vectors) != texts {
		return nil, apperrors.NewBaseError(apperrors.ErrorTypeEmbedding,
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), texts), nil)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, apperrors.NewEmbeddingDimension(dim, len(v))
		}
		vectors[i] = Normalize(v)
	}
	return vectors, nil
}

// Normalize returns v scaled to unit length; a zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
