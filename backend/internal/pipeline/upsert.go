package pipeline

import (
	"context"

	"go.uber.org/zap"

	"caregraph/backend/internal/batch"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// EntitySpec binds a dataset to the node label it populates
type EntitySpec struct {
	Dataset   string
	Label     string
	KeyColumn string
}

// Entities are upserted before anything references them
var Entities = []EntitySpec{
	{Dataset: source.Patients, Label: graph.LabelPatient, KeyColumn: graph.KeyID},
	{Dataset: source.Encounters, Label: graph.LabelEncounter, KeyColumn: graph.KeyID},
	{Dataset: source.Providers, Label: graph.LabelProvider, KeyColumn: graph.KeyID},
	{Dataset: source.Payers, Label: graph.LabelPayer, KeyColumn: graph.KeyID},
	{Dataset: source.Claims, Label: graph.LabelClaim, KeyColumn: graph.KeyID},
	{Dataset: source.Medications, Label: graph.LabelMedication, KeyColumn: graph.KeyCode},
}

// UpsertResult summarises one entity upsert
type UpsertResult struct {
	Label      string `json:"label"`
	Rows       int    `json:"rows"`
	Upserted   int    `json:"upserted"`
	MissingKey int    `json:"missing_key"`
}

// Upserter merges records into nodes keyed by an identifier column
type Upserter struct {
	store     graph.Store
	batchSize int
	logger    *zap.Logger
}

// NewUpserter creates an entity upserter writing batchSize rows per transaction
func NewUpserter(store graph.Store, batchSize int) *Upserter {
	return &Upserter{
		store:     store,
		batchSize: batchSize,
		logger:    logger.Named("upserter"),
	}
}

// Upsert writes one node per record with every other column as a property.
// Records without an identifier are skipped and counted. Each batch commits
// on its own; a failed batch leaves earlier batches in place.
func (u *Upserter) Upsert(ctx context.Context, label, keyColumn string, records []source.Record) (UpsertResult, error) {
	result := UpsertResult{Label: label, Rows: len(records)}

	rows := make([]graph.NodeRow, 0, len(records))
	for _, rec := range records {
		key, ok := KeyString(rec[keyColumn])
		if !ok {
			result.MissingKey++
			continue
		}
		props := make(map[string]any, len(rec))
		for col, v := range rec {
			if col != keyColumn {
				props[col] = v
			}
		}
		rows = append(rows, graph.NodeRow{Key: key, Props: props})
	}

	err := batch.Each(rows, u.batchSize, func(i int, chunk []graph.NodeRow) error {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("upsert "+label, err)
		}
		stats, err := u.store.UpsertNodes(ctx, label, keyColumn, chunk)
		if err != nil {
			return apperrors.NewBatchFailed("upsert", label, i, err)
		}
		result.Upserted += stats.Matched
		return nil
	})
	if err != nil {
		return result, err
	}

	if result.MissingKey > 0 {
		u.logger.Warn("Skipped records without identifier",
			zap.String("label", label),
			zap.String("key", keyColumn),
			zap.Int("skipped", result.MissingKey),
		)
	}
	u.logger.Info("Upserted entities",
		zap.String("label", label),
		zap.Int("rows", result.Rows),
		zap.Int("upserted", result.Upserted),
	)
	return result, nil
}
