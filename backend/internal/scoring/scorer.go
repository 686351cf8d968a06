// Package scoring ranks similar patients and weighs their payer eligibility.
package scoring

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"caregraph/backend/internal/graph"
	"caregraph/backend/pkg/logger"
)

// DefaultK is the neighbour count used when the caller gives none
const DefaultK = 5

// DefaultPayers is the eligibility allow-list
var DefaultPayers = []string{"Medicare", "Medicaid"}

// Candidate is one similar patient and its eligibility
type Candidate struct {
	PatientID      string   `json:"patient_id"`
	Similarity     float64  `json:"similarity"`
	EligiblePayers []string `json:"eligible_payers"`
	Eligible       bool     `json:"eligible"`
}

// Report is the result of one query. HasEmbedding is false when the patient
// has no stored vector; Candidates is then empty and Score is 0.
type Report struct {
	PatientID    string      `json:"patient_id"`
	HasEmbedding bool        `json:"has_embedding"`
	Candidates   []Candidate `json:"candidates"`
	Score        float64     `json:"score"`
}

// Scorer answers similarity and eligibility queries against the graph
type Scorer struct {
	store    graph.Store
	payers   []string
	defaultK int
	logger   *zap.Logger
}

// NewScorer creates a scorer using payers as the allow-list
func NewScorer(store graph.Store, payers []string, defaultK int) *Scorer {
	if len(payers) == 0 {
		payers = DefaultPayers
	}
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	return &Scorer{
		store:    store,
		payers:   payers,
		defaultK: defaultK,
		logger:   logger.Named("scoring"),
	}
}

// Score finds the k patients nearest to patientID, checks their eligibility
// and aggregates the similarity mass of the eligible ones. A non-positive k
// selects the default.
func (s *Scorer) Score(ctx context.Context, patientID string, k int) (*Report, error) {
	if k <= 0 {
		k = s.defaultK
	}
	report := &Report{PatientID: patientID, Candidates: []Candidate{}}

	vector, ok, err := s.store.GetEmbedding(ctx, graph.LabelPatient, graph.KeyID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding for %s: %w", patientID, err)
	}
	if !ok {
		s.logger.Debug("No embedding for patient", zap.String("patient_id", patientID))
		return report, nil
	}
	report.HasEmbedding = true

	neighbors, err := s.store.QueryVectorIndex(ctx, graph.VectorQuery{
		Index:       graph.EmbeddingIndexName(graph.LabelPatient),
		KeyProperty: graph.KeyID,
		K:           k,
		Vector:      vector,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
	}
	eligible, err := s.store.EligiblePayers(ctx, ids, s.payers)
	if err != nil {
		return nil, err
	}

	for _, n := range neighbors {
		payers := eligible[n.Key]
		if payers == nil {
			payers = []string{}
		}
		report.Candidates = append(report.Candidates, Candidate{
			PatientID:      n.Key,
			Similarity:     n.Score,
			EligiblePayers: payers,
			Eligible:       len(payers) > 0,
		})
	}
	report.Score = Aggregate(report.Candidates)

	s.logger.Debug("Scored patient",
		zap.String("patient_id", patientID),
		zap.Int("k", k),
		zap.Int("candidates", len(report.Candidates)),
		zap.Float64("score", report.Score),
	)
	return report, nil
}

// Aggregate is the similarity-weighted share of eligible candidates, or 0
// when the total similarity is zero
func Aggregate(candidates []Candidate) float64 {
	var eligible, total float64
	for _, c := range candidates {
		total += c.Similarity
		if c.Eligible {
			eligible += c.Similarity
		}
	}
	if total == 0 {
		return 0
	}
	return eligible / total
}
