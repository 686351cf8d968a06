package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	"caregraph/backend/pkg/config"
	"caregraph/backend/pkg/logger"
)

// EmbeddedLabels carry a vector index, one per entity label
var EmbeddedLabels = []string{
	graph.LabelPatient,
	graph.LabelProvider,
	graph.LabelPayer,
	graph.LabelEncounter,
	graph.LabelClaim,
	graph.LabelMedication,
}

// Options tune a bulk build
type Options struct {
	BatchSize          int
	EmbeddingBatchSize int
	Workers            int
	Reference          time.Time
	EmbeddingDimension int
	SkipEmbeddings     bool
}

// OptionsFromConfig maps configuration onto build options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	ref, err := cfg.Reference()
	if err != nil {
		return Options{}, err
	}
	return Options{
		BatchSize:          cfg.BatchSize,
		EmbeddingBatchSize: cfg.EmbeddingBatchSize,
		Workers:            cfg.Workers,
		Reference:          ref,
		EmbeddingDimension: cfg.EmbeddingDimension,
	}, nil
}

// Report summarises one build
type Report struct {
	RunID        string           `json:"run_id"`
	Entities     []UpsertResult   `json:"entities"`
	Demographics LinkResult       `json:"demographics"`
	Wirings      []WiringResult   `json:"wirings"`
	Embeddings   graph.WriteStats `json:"embeddings"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Builder runs the bulk construction: indexes, entities, demographics, then
// relationships and embeddings side by side
type Builder struct {
	store    graph.Store
	src      source.Source
	embedder adapter.Embedder
	opts     Options
	logger   *zap.Logger
}

// NewBuilder creates a builder. embedder may be nil when embeddings are skipped.
func NewBuilder(store graph.Store, src source.Source, embedder adapter.Embedder, opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if embedder == nil {
		opts.SkipEmbeddings = true
	} else {
		opts.EmbeddingDimension = embedder.Dimension()
	}
	return &Builder{
		store:    store,
		src:      src,
		embedder: embedder,
		opts:     opts,
		logger:   logger.Named("builder"),
	}
}

// EnsureIndexes creates key indexes on every label and a vector index per entity label
func (b *Builder) EnsureIndexes(ctx context.Context) error {
	for _, idx := range graph.KeyIndexes {
		if err := b.store.EnsureIndex(ctx, idx.Label, idx.Property); err != nil {
			return err
		}
	}
	if b.opts.EmbeddingDimension <= 0 {
		b.logger.Warn("Embedding dimension unset, skipping vector indexes")
		return nil
	}
	for _, label := range EmbeddedLabels {
		err := b.store.CreateVectorIndex(ctx, graph.VectorIndex{
			Name:       graph.EmbeddingIndexName(label),
			Label:      label,
			Property:   graph.PropEmbedding,
			Dimension:  b.opts.EmbeddingDimension,
			Similarity: graph.SimilarityCosine,
		})
		if err != nil {
			return err
		}
	}
	b.logger.Info("Indexes ensured",
		zap.Int("key_indexes", len(graph.KeyIndexes)),
		zap.Int("vector_indexes", len(EmbeddedLabels)),
	)
	return nil
}

// Run builds the whole graph. Every step is idempotent, so a failed run
// can be repeated from the start.
func (b *Builder) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	log := b.logger.With(zap.String("run_id", report.RunID))
	log.Info("Starting graph build",
		zap.Int("batch_size", b.opts.BatchSize),
		zap.Int("workers", b.opts.Workers),
		zap.Time("reference_date", b.opts.Reference),
		zap.Bool("skip_embeddings", b.opts.SkipEmbeddings),
	)

	if err := b.EnsureIndexes(ctx); err != nil {
		return report, err
	}

	upserter := NewUpserter(b.store, b.opts.BatchSize)
	report.Entities = make([]UpsertResult, len(Entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, e := range Entities {
		g.Go(func() error {
			records, err := loadDataset(gctx, b.src, e.Dataset, log)
			if err != nil {
				return err
			}
			res, err := upserter.Upsert(gctx, e.Label, e.KeyColumn, records)
			report.Entities[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	patients, err := loadDataset(ctx, b.src, source.Patients, log)
	if err != nil {
		return report, err
	}
	report.Demographics, err = NewLinker(b.store, b.opts.BatchSize, b.opts.Reference).Link(ctx, patients)
	if err != nil {
		return report, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Wirings, err = NewEngine(b.store, b.opts.BatchSize, b.opts.Workers).Run(gctx, b.src, Wirings)
		return err
	})
	if !b.opts.SkipEmbeddings {
		g.Go(func() error {
			writer := NewEmbeddingWriter(b.store, b.embedder, b.opts.EmbeddingBatchSize, b.opts.Workers)
			var err error
			report.Embeddings, err = writer.WritePatients(gctx, patients)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Elapsed = time.Since(start)
	b.logReport(log, report)
	return report, nil
}

func (b *Builder) logReport(log *zap.Logger, r *Report) {
	for _, e := range r.Entities {
		log.Info("Entity summary",
			zap.String("label", e.Label),
			zap.Int("upserted", e.Upserted),
			zap.Int("missing_key", e.MissingKey),
		)
	}
	for _, w := range r.Wirings {
		log.Info("Wiring summary",
			zap.String("wiring", w.Name),
			zap.Int("matched", w.Matched),
			zap.Int("skipped", w.Skipped),
		)
	}
	log.Info("Graph build complete",
		zap.Int("patients_linked", r.Demographics.Patients),
		zap.Int("embeddings", r.Embeddings.Matched),
		zap.Duration("elapsed", r.Elapsed),
	)
}
