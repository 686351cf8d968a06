package adapter

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// OllamaParams configures an Ollama embedder
type OllamaParams struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimension      int
	MaxConcurrency int64
}

// OllamaEmbedder calls the Ollama embed API with a local model
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
	reqLock   *semaphore.Weighted
	closed    atomic.Bool
	logger    *zap.Logger
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaEmbedder creates a new Ollama embedder. An empty BaseURL selects
// the client default.
func NewOllamaEmbedder(params OllamaParams) (*OllamaEmbedder, error) {
	var u *url.URL
	if params.BaseURL != "" {
		var err error
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, apperrors.NewConfigValidationFailed("EMBEDDING_BASE_URL", err.Error())
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.APIKey},
				rt:      http.DefaultTransport,
			},
		}
	}

	concurrency := params.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &OllamaEmbedder{
		client:    api.NewClient(u, httpClient),
		model:     params.Model,
		dimension: params.Dimension,
		reqLock:   semaphore.NewWeighted(concurrency),
		logger:    logger.Named("embedder").With(zap.String("provider", ProviderOllama)),
	}, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

func (e *OllamaEmbedder) Model() string { return e.model }

// Embed returns one unit vector per text, in input order
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
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

	req := &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	}

	var resp *api.EmbedResponse
	err := withRetry(ctx, e.logger, e.model, func() error {
		var err error
		resp, err = e.client.Embed(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Embedded batch",
		zap.Int("texts", len(texts)),
		zap.Int("prompt_tokens", resp.PromptEvalCount),
		zap.Duration("duration", resp.TotalDuration),
	)
	return finalize(resp.Embeddings, len(texts), e.dimension)
}

// Close releases the embedder; later Embed calls fail
func (e *OllamaEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
