package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/batch"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// patientTextColumns is the ordered attribute list embedded for a patient
var patientTextColumns = []string{
	ColFirst, ColLast, ColGender, ColBirthDate, ColEthnicity, ColRace, ColIncome, ColZip,
}

// PatientText is the canonical text embedded for a patient. Bulk builds and
// single additions must both use it.
func PatientText(rec source.Record) string {
	parts := make([]string, len(patientTextColumns))
	for i, col := range patientTextColumns {
		parts[i] = ValueString(rec[col])
	}
	return strings.Join(parts, " ")
}

// TextFunc renders a record as embedding input
type TextFunc func(source.Record) string

// EmbeddingWriter embeds records and stores the vectors on their nodes
type EmbeddingWriter struct {
	store     graph.Store
	embedder  adapter.Embedder
	batchSize int
	workers   int
	logger    *zap.Logger
}

// NewEmbeddingWriter creates a writer sending batchSize texts per provider call
func NewEmbeddingWriter(store graph.Store, embedder adapter.Embedder, batchSize, workers int) *EmbeddingWriter {
	if workers <= 0 {
		workers = 1
	}
	return &EmbeddingWriter{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger.Named("embeddings"),
	}
}

// WritePatients embeds every patient record with PatientText
func (w *EmbeddingWriter) WritePatients(ctx context.Context, patients []source.Record) (graph.WriteStats, error) {
	return w.Write(ctx, graph.LabelPatient, graph.KeyID, patients, PatientText)
}

// Write embeds records of label and sets their embedding property.
// Records without a key are ignored.
func (w *EmbeddingWriter) Write(ctx context.Context, label, keyProperty string, records []source.Record, text TextFunc) (graph.WriteStats, error) {
	keys := make([]string, 0, len(records))
	texts := make([]string, 0, len(records))
	for _, rec := range records {
		key, ok := KeyString(rec[keyProperty])
		if !ok {
			continue
		}
		keys = append(keys, key)
		texts = append(texts, text(rec))
	}

	keyChunks := batch.Split(keys, w.batchSize)
	textChunks := batch.Split(texts, w.batchSize)
	stats := make([]graph.WriteStats, len(keyChunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i := range keyChunks {
		g.Go(func() error {
			vectors, err := w.embedder.Embed(gctx, textChunks[i])
			if err != nil {
				return apperrors.NewBatchFailed("embedding", label, i, err)
			}
			if len(vectors) != len(textChunks[i]) {
				return apperrors.NewBatchFailed("embedding", label, i,
					fmt.Errorf("got %d vectors for %d texts", len(vectors), len(textChunks[i])))
			}

			rows := make([]graph.EmbeddingRow, len(vectors))
			for j, v := range vectors {
				rows[j] = graph.EmbeddingRow{Key: keyChunks[i][j], Vector: v}
			}
			s, err := w.store.SetEmbeddings(gctx, label, keyProperty, rows)
			if err != nil {
				return apperrors.NewBatchFailed("embedding", label, i, err)
			}
			stats[i] = s
			return nil
		})
	}
	err := g.Wait()

	var total graph.WriteStats
	for _, s := range stats {
		total = total.Add(s)
	}
	if err != nil {
		return total, err
	}

	w.logger.Info("Stored embeddings",
		zap.String("label", label),
		zap.String("model", w.embedder.Model()),
		zap.Int("texts", len(texts)),
		zap.Int("stored", total.Matched),
	)
	return total, nil
}
