package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/demographics"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	"caregraph/backend/pkg/logger"
)

// AddResult describes a patient added outside the bulk build
type AddResult struct {
	ID       string               `json:"id"`
	Profile  demographics.Profile `json:"profile"`
	Embedded bool                 `json:"embedded"`
}

// PatientService adds single patients with the same steps as the bulk build
type PatientService struct {
	upserter *Upserter
	linker   *Linker
	writer   *EmbeddingWriter
	logger   *zap.Logger
}

// NewPatientService creates the single-patient path. embedder may be nil, in
// which case added patients get no embedding.
func NewPatientService(store graph.Store, embedder adapter.Embedder, opts Options) *PatientService {
	s := &PatientService{
		upserter: NewUpserter(store, 1),
		linker:   NewLinker(store, 1, opts.Reference),
		logger:   logger.Named("patients"),
	}
	if embedder != nil {
		s.writer = NewEmbeddingWriter(store, embedder, 1, 1)
	}
	return s
}

// Add upserts one patient, merges and links its buckets, then embeds it with
// PatientText. A record without Id is assigned a random one.
func (s *PatientService) Add(ctx context.Context, rec source.Record) (*AddResult, error) {
	patient := make(source.Record, len(rec)+1)
	for k, v := range rec {
		patient[k] = v
	}
	id, ok := KeyString(patient[ColID])
	if !ok {
		id = uuid.NewString()
	}
	patient[ColID] = id

	records := []source.Record{patient}
	if _, err := s.upserter.Upsert(ctx, graph.LabelPatient, graph.KeyID, records); err != nil {
		return nil, err
	}
	if _, err := s.linker.Link(ctx, records); err != nil {
		return nil, err
	}

	result := &AddResult{ID: id, Profile: s.linker.Profile(patient)}
	if s.writer != nil {
		stats, err := s.writer.WritePatients(ctx, records)
		if err != nil {
			return result, err
		}
		result.Embedded = stats.Matched > 0
	}

	s.logger.Info("Patient added",
		zap.String("patient_id", id),
		zap.String("age_range", result.Profile.AgeRange),
		zap.String("income_range", result.Profile.IncomeRange),
		zap.String("zipcode", result.Profile.Zipcode),
		zap.Bool("embedded", result.Embedded),
	)
	return result, nil
}
