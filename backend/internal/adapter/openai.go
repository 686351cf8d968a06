package adapter

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// OpenAIParams configures an OpenAI-compatible embedder (OpenAI or LiteLLM)
type OpenAIParams struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimension      int
	MaxConcurrency int64
}

// OpenAIEmbedder calls the /v1/embeddings endpoint of an OpenAI-compatible server
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	reqLock   *semaphore.Weighted
	closed    atomic.Bool
	logger    *zap.Logger
}

// NewOpenAIEmbedder creates a new OpenAI-compatible embedder
func NewOpenAIEmbedder(params OpenAIParams) *OpenAIEmbedder {
	// LiteLLM accepts a dummy API key when none is configured
	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	if params.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(params.BaseURL, "/") + "/v1"
	}

	concurrency := params.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(config),
		model:     params.Model,
		dimension: params.Dimension,
		reqLock:   semaphore.NewWeighted(concurrency),
		logger:    logger.Named("embedder").With(zap.String("provider", ProviderOpenAI)),
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed returns one unit vector per text, in input order
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, apperrors.NewBaseError(apperrors.ErrorTypeEmbedding, "embedder is closed", nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := e.reqLock.Acquire(ctx, 1); err != nil {
		return nil, apperrors.NewContextCancelled("embedding", err)
	}
	defer e.reqLock.Release(1)

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}

	var resp openai.EmbeddingResponse
	err := withRetry(ctx, e.logger, e.model, func() error {
		var err error
		resp, err = e.client.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return finalize(nil, len(texts), e.dimension)
	}
	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) || vectors[idx] != nil {
			idx = i
		}
		vectors[idx] = d.Embedding
	}

	e.logger.Debug("Embedded batch",
		zap.Int("texts", len(texts)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return finalize(vectors, len(texts), e.dimension)
}

// Close releases the embedder; later Embed calls fail
func (e *OpenAIEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
