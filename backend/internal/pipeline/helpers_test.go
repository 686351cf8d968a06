package pipeline

import (
	"context"
	"errors"
	"sync"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/graph"
)

// fakeEmbedder derives a deterministic unit vector from the bytes of each text
type fakeEmbedder struct {
	dim   int
	mu    sync.Mutex
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = vectorFor(text, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Close() error   { return nil }

var _ adapter.Embedder = (*fakeEmbedder)(nil)

func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	for i, b := range []byte(text) {
		v[i%dim] += float32(b)
	}
	return adapter.Normalize(v)
}

// failingStore fails every UpsertNodes call after the first failAfter calls
type failingStore struct {
	*graph.MemoryStore
	failAfter int
	calls     int
}

var errStoreDown = errors.New("connection reset by peer")

func (f *failingStore) UpsertNodes(ctx context.Context, label, keyProperty string, rows []graph.NodeRow) (graph.WriteStats, error) {
	f.calls++
	if f.calls > f.failAfter {
		return graph.WriteStats{Rows: len(rows)}, errStoreDown
	}
	return f.MemoryStore.UpsertNodes(ctx, label, keyProperty, rows)
}
