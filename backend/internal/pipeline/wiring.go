package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"caregraph/backend/internal/batch"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// Wiring joins two entity types through the foreign keys of a dataset
type Wiring struct {
	Dataset      string
	SourceColumn string
	TargetColumn string
	Spec         graph.RelationshipSpec
}

// Name identifies the wiring in logs and reports
func (w Wiring) Name() string {
	return fmt.Sprintf("%s-%s->%s", w.Spec.SourceLabel, w.Spec.Type, w.Spec.TargetLabel)
}

func wire(dataset, sourceColumn, sourceLabel, sourceKey, targetColumn, targetLabel, targetKey, rel string) Wiring {
	return Wiring{
		Dataset:      dataset,
		SourceColumn: sourceColumn,
		TargetColumn: targetColumn,
		Spec: graph.RelationshipSpec{
			SourceLabel:    sourceLabel,
			SourceProperty: sourceKey,
			TargetLabel:    targetLabel,
			TargetProperty: targetKey,
			Type:           rel,
			Direction:      graph.Outgoing,
		},
	}
}

// Wirings is the fixed relationship table
var Wirings = []Wiring{
	wire(source.Encounters, "PATIENT", graph.LabelPatient, graph.KeyID, "Id", graph.LabelEncounter, graph.KeyID, graph.RelHasEncounter),
	wire(source.Encounters, "Id", graph.LabelEncounter, graph.KeyID, "PROVIDER", graph.LabelProvider, graph.KeyID, graph.RelAttendedBy),
	wire(source.Encounters, "Id", graph.LabelEncounter, graph.KeyID, "PAYER", graph.LabelPayer, graph.KeyID, graph.RelBilledBy),
	wire(source.Claims, "PATIENTID", graph.LabelPatient, graph.KeyID, "Id", graph.LabelClaim, graph.KeyID, graph.RelHasClaim),
	wire(source.Claims, "Id", graph.LabelClaim, graph.KeyID, "PROVIDERID", graph.LabelProvider, graph.KeyID, graph.RelProvidedBy),
	wire(source.Claims, "Id", graph.LabelClaim, graph.KeyID, "PRIMARYPATIENTINSURANCEID", graph.LabelPayer, graph.KeyID, graph.RelPaidBy),
	wire(source.Medications, "ENCOUNTER", graph.LabelEncounter, graph.KeyID, "CODE", graph.LabelMedication, graph.KeyCode, graph.RelHasMedication),
	wire(source.Medications, "PATIENT", graph.LabelPatient, graph.KeyID, "CODE", graph.LabelMedication, graph.KeyCode, graph.RelHasMedication),
	wire(source.Medications, "CODE", graph.LabelMedication, graph.KeyCode, "PAYER", graph.LabelPayer, graph.KeyID, graph.RelCoveredBy),
}

// WiringResult summarises one wiring. Skipped counts rows whose endpoints
// did not both exist; MissingKey counts rows lacking a foreign key.
type WiringResult struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Rows       int    `json:"rows"`
	Matched    int    `json:"matched"`
	Skipped    int    `json:"skipped"`
	MissingKey int    `json:"missing_key"`
}

// Engine merges relationships for a set of wirings
type Engine struct {
	store     graph.Store
	batchSize int
	workers   int
	logger    *zap.Logger
}

// NewEngine creates a wiring engine running up to workers wirings at once
func NewEngine(store graph.Store, batchSize, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		store:     store,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger.Named("wiring"),
	}
}

// Run executes every wiring against its dataset. Results keep the order of wirings.
func (e *Engine) Run(ctx context.Context, src source.Source, wirings []Wiring) ([]WiringResult, error) {
	results := make([]WiringResult, len(wirings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, w := range wirings {
		g.Go(func() error {
			records, err := loadDataset(gctx, src, w.Dataset, e.logger)
			if err != nil {
				return err
			}
			res, err := e.Wire(gctx, w, records)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Wire merges the relationships of one wiring from records
func (e *Engine) Wire(ctx context.Context, w Wiring, records []source.Record) (WiringResult, error) {
	result := WiringResult{Name: w.Name(), Type: w.Spec.Type, Rows: len(records)}

	rows := make([]graph.EdgeRow, 0, len(records))
	for _, rec := range records {
		from, ok := KeyString(rec[w.SourceColumn])
		if !ok {
			result.MissingKey++
			continue
		}
		to, ok := KeyString(rec[w.TargetColumn])
		if !ok {
			result.MissingKey++
			continue
		}
		rows = append(rows, graph.EdgeRow{Source: from, Target: to})
	}

	err := batch.Each(rows, e.batchSize, func(i int, chunk []graph.EdgeRow) error {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("wiring "+w.Spec.Type, err)
		}
		stats, err := e.store.MergeRelationships(ctx, w.Spec, chunk)
		if err != nil {
			return apperrors.NewBatchFailed("wiring", w.Name(), i, err)
		}
		result.Matched += stats.Matched
		result.Skipped += stats.Skipped()
		return nil
	})
	if err != nil {
		return result, err
	}

	log := e.logger.With(zap.String("wiring", result.Name), zap.String("dataset", w.Dataset))
	if result.Skipped > 0 || result.MissingKey > 0 {
		log.Warn("Relationships skipped for unmatched endpoints",
			zap.Int("skipped", result.Skipped),
			zap.Int("missing_key", result.MissingKey),
		)
	}
	log.Info("Wired relationships",
		zap.Int("rows", result.Rows),
		zap.Int("matched", result.Matched),
	)
	return result, nil
}
