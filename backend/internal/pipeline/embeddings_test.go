package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
)

func TestPatientText(t *testing.T) {
	rec := source.Record{
		"Id":        "p1",
		"FIRST":     "Ann",
		"LAST":      "Lee",
		"BIRTHDATE": "1985-01-01",
		"INCOME":    75000.0,
		"ZIP":       "90210",
		"CITY":      "ignored",
	}

	assert.Equal(t, "Ann Lee  1985-01-01   75000 90210", PatientText(rec))
	assert.Equal(t, "       ", PatientText(source.Record{}))
}

func TestEmbeddingWriter_WritePatients(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	embedder := &fakeEmbedder{dim: 4}
	patients := []source.Record{
		{"Id": "p1", "FIRST": "Ann"},
		{"Id": "p2", "FIRST": "Bob"},
		{"Id": "p3", "FIRST": "Cy"},
		{"Id": "gone", "FIRST": "Nobody"},
	}
	_, err := NewUpserter(store, 10).Upsert(ctx, graph.LabelPatient, graph.KeyID, patients[:3])
	require.NoError(t, err)

	stats, err := NewEmbeddingWriter(store, embedder, 2, 2).WritePatients(ctx, patients)
	require.NoError(t, err)

	assert.Equal(t, graph.WriteStats{Rows: 4, Matched: 3}, stats)
	vector, ok, err := store.GetEmbedding(ctx, graph.LabelPatient, graph.KeyID, "p2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vectorFor(PatientText(patients[1]), 4), vector)
	assert.Len(t, embedder.texts, 4)
}
