package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caregraph/backend/internal/graph"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		want       float64
	}{
		{
			name: "first and third eligible",
			candidates: []Candidate{
				{Similarity: 0.9, Eligible: true},
				{Similarity: 0.8},
				{Similarity: 0.7, Eligible: true},
			},
			want: 0.6667,
		},
		{name: "no candidates", want: 0},
		{name: "zero mass", candidates: []Candidate{{Similarity: 0, Eligible: true}}, want: 0},
		{name: "none eligible", candidates: []Candidate{{Similarity: 0.5}}, want: 0},
		{name: "all eligible", candidates: []Candidate{{Similarity: 0.5, Eligible: true}, {Similarity: 0.2, Eligible: true}}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Aggregate(tt.candidates), 1e-4)
		})
	}
}

func seedGraph(t *testing.T) *graph.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := graph.NewMemoryStore()

	require.NoError(t, store.CreateVectorIndex(ctx, graph.VectorIndex{
		Name: graph.EmbeddingIndexName(graph.LabelPatient), Label: graph.LabelPatient,
		Property: graph.PropEmbedding, Dimension: 2, Similarity: graph.SimilarityCosine,
	}))
	_, err := store.UpsertNodes(ctx, graph.LabelPatient, graph.KeyID, []graph.NodeRow{
		{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "bare"},
	})
	require.NoError(t, err)
	_, err = store.SetEmbeddings(ctx, graph.LabelPatient, graph.KeyID, []graph.EmbeddingRow{
		{Key: "a", Vector: []float32{1, 0}},
		{Key: "b", Vector: []float32{0.8, 0.6}},
		{Key: "c", Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	_, _ = store.UpsertNodes(ctx, graph.LabelClaim, graph.KeyID, []graph.NodeRow{{Key: "c1"}, {Key: "c2"}})
	_, _ = store.UpsertNodes(ctx, graph.LabelPayer, graph.KeyID, []graph.NodeRow{
		{Key: "y1", Props: map[string]any{graph.PropPayerName: "Medicaid"}},
		{Key: "y2", Props: map[string]any{graph.PropPayerName: "Humana"}},
	})
	hasClaim := graph.RelationshipSpec{
		SourceLabel: graph.LabelPatient, SourceProperty: graph.KeyID,
		TargetLabel: graph.LabelClaim, TargetProperty: graph.KeyID, Type: graph.RelHasClaim,
	}
	paidBy := graph.RelationshipSpec{
		SourceLabel: graph.LabelClaim, SourceProperty: graph.KeyID,
		TargetLabel: graph.LabelPayer, TargetProperty: graph.KeyID, Type: graph.RelPaidBy,
	}
	_, _ = store.MergeRelationships(ctx, hasClaim, []graph.EdgeRow{{Source: "a", Target: "c1"}, {Source: "b", Target: "c2"}})
	_, _ = store.MergeRelationships(ctx, paidBy, []graph.EdgeRow{{Source: "c1", Target: "y1"}, {Source: "c2", Target: "y2"}})
	return store
}

func TestScorer_Score(t *testing.T) {
	scorer := NewScorer(seedGraph(t), nil, 0)

	report, err := scorer.Score(context.Background(), "a", 3)
	require.NoError(t, err)

	assert.True(t, report.HasEmbedding)
	require.Len(t, report.Candidates, 3)
	assert.Equal(t, "a", report.Candidates[0].PatientID)
	assert.InDelta(t, 1.0, report.Candidates[0].Similarity, 1e-6)
	assert.Equal(t, []string{"Medicaid"}, report.Candidates[0].EligiblePayers)
	assert.Equal(t, "b", report.Candidates[1].PatientID)
	assert.InDelta(t, 0.9, report.Candidates[1].Similarity, 1e-6)
	assert.False(t, report.Candidates[1].Eligible)
	assert.Equal(t, []string{}, report.Candidates[1].EligiblePayers)
	assert.InDelta(t, 0.5, report.Candidates[2].Similarity, 1e-6)

	assert.InDelta(t, 1.0/2.4, report.Score, 1e-6)
}

func TestScorer_DefaultK(t *testing.T) {
	report, err := NewScorer(seedGraph(t), nil, 2).Score(context.Background(), "c", 0)
	require.NoError(t, err)

	assert.Len(t, report.Candidates, 2)
	assert.Equal(t, "c", report.Candidates[0].PatientID)
}

func TestScorer_NoEmbedding(t *testing.T) {
	scorer := NewScorer(seedGraph(t), nil, 0)

	for _, id := range []string{"bare", "unknown"} {
		report, err := scorer.Score(context.Background(), id, 5)
		require.NoError(t, err)
		assert.False(t, report.HasEmbedding)
		assert.Empty(t, report.Candidates)
		assert.Equal(t, 0.0, report.Score)
	}
}
