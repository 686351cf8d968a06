package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "caregraph/backend/pkg/errors"
)

func TestMemoryStore_UpsertNodes_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rows := []NodeRow{
		{Key: "p1", Props: map[string]any{"FIRST": "Ann", "INCOME": 75000.0}},
		{Key: "p2", Props: map[string]any{"FIRST": "Bob"}},
	}

	stats, err := store.UpsertNodes(ctx, LabelPatient, KeyID, rows)
	require.NoError(t, err)
	assert.Equal(t, WriteStats{Rows: 2, Matched: 2}, stats)

	_, err = store.UpsertNodes(ctx, LabelPatient, KeyID, rows)
	require.NoError(t, err)

	assert.Equal(t, 2, store.NodeCount(LabelPatient))
	props, ok := store.Node(LabelPatient, "p1")
	require.True(t, ok)
	assert.Equal(t, "Ann", props["FIRST"])
	assert.Equal(t, "p1", props[KeyID])
}

func TestMemoryStore_UpsertNodes_UnionsProperties(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertNodes(ctx, LabelPayer, KeyID, []NodeRow{{Key: "x", Props: map[string]any{"NAME": "Medicare"}}})
	require.NoError(t, err)
	_, err = store.UpsertNodes(ctx, LabelPayer, KeyID, []NodeRow{{Key: "x", Props: map[string]any{"CITY": "Boston"}}})
	require.NoError(t, err)

	props, _ := store.Node(LabelPayer, "x")
	assert.Equal(t, "Medicare", props["NAME"])
	assert.Equal(t, "Boston", props["CITY"])
}

func TestMemoryStore_RejectsInvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertNodes(ctx, "Patient) DETACH DELETE (n", KeyID, nil)
	var invalid *apperrors.ErrInvalidIdentifier
	assert.ErrorAs(t, err, &invalid)

	_, err = store.MergeRelationships(ctx, RelationshipSpec{
		SourceLabel: LabelPatient, SourceProperty: KeyID,
		TargetLabel: LabelClaim, TargetProperty: KeyID,
		Type: "HAS CLAIM",
	}, nil)
	assert.ErrorAs(t, err, &invalid)
}

func TestMemoryStore_MergeRelationships_SkipsMissingEndpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "p1"}})
	_, _ = store.UpsertNodes(ctx, LabelClaim, KeyID, []NodeRow{{Key: "c1"}, {Key: "c2"}})

	spec := RelationshipSpec{
		SourceLabel: LabelPatient, SourceProperty: KeyID,
		TargetLabel: LabelClaim, TargetProperty: KeyID,
		Type: RelHasClaim,
	}
	rows := []EdgeRow{{"p1", "c1"}, {"p1", "c2"}, {"ghost", "c1"}}

	stats, err := store.MergeRelationships(ctx, spec, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.Skipped())

	_, err = store.MergeRelationships(ctx, spec, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, store.EdgeCount(RelHasClaim))
	assert.True(t, store.HasEdge(LabelPatient, "p1", RelHasClaim, LabelClaim, "c2"))
	assert.Equal(t, 0, store.NodeCount("ghost"))
}

func TestMemoryStore_MergeRelationships_Incoming(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelClaim, KeyID, []NodeRow{{Key: "c1"}})
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "p1"}})

	_, err := store.MergeRelationships(ctx, RelationshipSpec{
		SourceLabel: LabelClaim, SourceProperty: KeyID,
		TargetLabel: LabelPatient, TargetProperty: KeyID,
		Type: RelHasClaim, Direction: Incoming,
	}, []EdgeRow{{"c1", "p1"}})
	require.NoError(t, err)

	assert.True(t, store.HasEdge(LabelPatient, "p1", RelHasClaim, LabelClaim, "c1"))
	assert.False(t, store.HasEdge(LabelClaim, "c1", RelHasClaim, LabelPatient, "p1"))
}

func TestMemoryStore_LinkDemographics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "p1"}})
	require.NoError(t, store.MergeBuckets(ctx, LabelAgeRange, KeyRange, []string{"30-44"}))
	require.NoError(t, store.MergeBuckets(ctx, LabelIncomeRange, KeyRange, []string{"50k-100k"}))

	age := 40
	stats, err := store.LinkDemographics(ctx, []DemographicRow{
		{PatientID: "p1", Age: &age, AgeRange: "30-44", IncomeRange: "50k-100k", Zipcode: "90210"},
		{PatientID: "missing", AgeRange: "Unknown"},
	})
	require.NoError(t, err)

	assert.Equal(t, LinkStats{Patients: 1, AgeLinks: 1, IncomeLinks: 1, ZipLinks: 0}, stats)
	props, _ := store.Node(LabelPatient, "p1")
	assert.Equal(t, int64(40), props[PropAge])
	assert.Equal(t, "90210", props[PropZipcode])
	assert.True(t, store.HasEdge(LabelPatient, "p1", RelInAgeRange, LabelAgeRange, "30-44"))
	assert.Equal(t, 0, store.EdgeCount(RelLivesIn))
}

func TestMemoryStore_LinkDemographics_ReplacesChangedBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "p1"}})
	require.NoError(t, store.MergeBuckets(ctx, LabelAgeRange, KeyRange, []string{"30-44"}))
	require.NoError(t, store.MergeBuckets(ctx, LabelIncomeRange, KeyRange, []string{"50k-100k", "100k+"}))
	require.NoError(t, store.MergeBuckets(ctx, LabelZipcode, KeyZipcode, []string{"90210"}))

	_, err := store.LinkDemographics(ctx, []DemographicRow{
		{PatientID: "p1", AgeRange: "30-44", IncomeRange: "50k-100k", Zipcode: "90210"},
	})
	require.NoError(t, err)

	// 10001 has no node yet, so the patient ends up with no LIVES_IN edge
	stats, err := store.LinkDemographics(ctx, []DemographicRow{
		{PatientID: "p1", AgeRange: "30-44", IncomeRange: "100k+", Zipcode: "10001"},
	})
	require.NoError(t, err)

	assert.Equal(t, LinkStats{Patients: 1, AgeLinks: 1, IncomeLinks: 1}, stats)
	assert.Equal(t, 1, store.EdgeCount(RelInAgeRange))
	assert.Equal(t, 1, store.EdgeCount(RelInIncomeRange))
	assert.True(t, store.HasEdge(LabelPatient, "p1", RelInIncomeRange, LabelIncomeRange, "100k+"))
	assert.False(t, store.HasEdge(LabelPatient, "p1", RelInIncomeRange, LabelIncomeRange, "50k-100k"))
	assert.Equal(t, 0, store.EdgeCount(RelLivesIn))
	assert.Equal(t, 2, store.NodeCount(LabelIncomeRange))
}

func TestMemoryStore_MergeBuckets_SharesNodes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.MergeBuckets(ctx, LabelZipcode, KeyZipcode, []string{"02118", "02118", "Unknown"}))
	require.NoError(t, store.MergeBuckets(ctx, LabelZipcode, KeyZipcode, []string{"02118"}))

	assert.Equal(t, 2, store.NodeCount(LabelZipcode))
}

func TestMemoryStore_QueryVectorIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateVectorIndex(ctx, VectorIndex{
		Name: EmbeddingIndexName(LabelPatient), Label: LabelPatient,
		Property: PropEmbedding, Dimension: 2, Similarity: SimilarityCosine,
	}))
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}})
	_, err := store.SetEmbeddings(ctx, LabelPatient, KeyID, []EmbeddingRow{
		{Key: "a", Vector: []float32{1, 0}},
		{Key: "b", Vector: []float32{0, 1}},
		{Key: "c", Vector: []float32{-1, 0}},
	})
	require.NoError(t, err)

	hits, err := store.QueryVectorIndex(ctx, VectorQuery{
		Index: "patient_embedding_index", KeyProperty: KeyID, K: 2, Vector: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Key)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "b", hits[1].Key)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	_, err = store.QueryVectorIndex(ctx, VectorQuery{Index: "patient_embedding_index", KeyProperty: KeyID, K: 2, Vector: []float32{1, 0, 0}})
	var dim *apperrors.ErrEmbeddingDimension
	assert.ErrorAs(t, err, &dim)

	_, err = store.QueryVectorIndex(ctx, VectorQuery{Index: "nope", KeyProperty: KeyID, K: 2, Vector: []float32{1, 0}})
	assert.Error(t, err)
}

func TestMemoryStore_GetEmbedding(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "a"}, {Key: "b"}})
	_, _ = store.SetEmbeddings(ctx, LabelPatient, KeyID, []EmbeddingRow{{Key: "a", Vector: []float32{0.6, 0.8}}})

	vector, ok, err := store.GetEmbedding(ctx, LabelPatient, KeyID, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, vector)

	_, ok, err = store.GetEmbedding(ctx, LabelPatient, KeyID, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_EligiblePayers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.UpsertNodes(ctx, LabelPatient, KeyID, []NodeRow{{Key: "p1"}, {Key: "p2"}, {Key: "p3"}})
	_, _ = store.UpsertNodes(ctx, LabelClaim, KeyID, []NodeRow{{Key: "c1"}, {Key: "c2"}, {Key: "c3"}})
	_, _ = store.UpsertNodes(ctx, LabelPayer, KeyID, []NodeRow{
		{Key: "y1", Props: map[string]any{PropPayerName: "Medicare"}},
		{Key: "y2", Props: map[string]any{PropPayerName: "Aetna"}},
	})
	hasClaim := RelationshipSpec{LabelPatient, KeyID, LabelClaim, KeyID, RelHasClaim, Outgoing}
	paidBy := RelationshipSpec{LabelClaim, KeyID, LabelPayer, KeyID, RelPaidBy, Outgoing}
	_, _ = store.MergeRelationships(ctx, hasClaim, []EdgeRow{{"p1", "c1"}, {"p1", "c2"}, {"p2", "c3"}})
	_, _ = store.MergeRelationships(ctx, paidBy, []EdgeRow{{"c1", "y1"}, {"c2", "y1"}, {"c3", "y2"}})

	eligible, err := store.EligiblePayers(ctx, []string{"p1", "p2", "p3"}, []string{"Medicare", "Medicaid"})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"p1": {"Medicare"}}, eligible)
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"Patient", true},
		{"Age_Range", true},
		{"_x1", true},
		{"1abc", false},
		{"", false},
		{"a-b", false},
		{"a`b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidIdentifier(tt.name))
		})
	}
}
