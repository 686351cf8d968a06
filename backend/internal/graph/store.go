package graph

import (
	"context"
	"regexp"

	apperrors "caregraph/backend/pkg/errors"
)

// Store is the graph database contract the pipeline and scorer depend on.
// Every write is idempotent: repeating a call with the same rows leaves the
// graph unchanged.
type Store interface {
	// EnsureIndex creates a property index on (label, property) if absent.
	EnsureIndex(ctx context.Context, label, property string) error
	// CreateVectorIndex creates a vector index if absent.
	CreateVectorIndex(ctx context.Context, idx VectorIndex) error

	// UpsertNodes merges one node per row keyed by keyProperty and unions Props
	// onto it, atomically for the whole slice.
	UpsertNodes(ctx context.Context, label, keyProperty string, rows []NodeRow) (WriteStats, error)
	// MergeBuckets merges one node per distinct value.
	MergeBuckets(ctx context.Context, label, keyProperty string, values []string) error
	// LinkDemographics stores derived attributes on each patient and merges its
	// three demographic edges. A missing bucket node drops only that edge.
	LinkDemographics(ctx context.Context, rows []DemographicRow) (LinkStats, error)
	// MergeRelationships merges one edge per row whose endpoints both exist.
	MergeRelationships(ctx context.Context, spec RelationshipSpec, rows []EdgeRow) (WriteStats, error)
	// SetEmbeddings replaces the embedding property on each matched node.
	SetEmbeddings(ctx context.Context, label, keyProperty string, rows []EmbeddingRow) (WriteStats, error)

	// GetEmbedding returns the stored embedding; ok is false when the node or
	// its embedding is absent.
	GetEmbedding(ctx context.Context, label, keyProperty, key string) (vector []float32, ok bool, err error)
	// QueryVectorIndex returns up to K neighbors ordered by descending score.
	QueryVectorIndex(ctx context.Context, q VectorQuery) ([]Neighbor, error)
	// EligiblePayers returns, per patient with at least one match, the distinct
	// names of allow-listed payers that paid one of its claims.
	EligiblePayers(ctx context.Context, patientIDs []string, payerNames []string) (map[string][]string, error)

	Close(ctx context.Context) error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a label, property key
// or relationship type in a query.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// quote returns the backtick-quoted identifier or an input error.
func quote(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", apperrors.NewInvalidIdentifier(name)
	}
	return "`" + name + "`", nil
}

func quoteAll(names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := quote(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func validateSpec(spec RelationshipSpec) error {
	_, err := quoteAll(spec.SourceLabel, spec.SourceProperty, spec.TargetLabel, spec.TargetProperty, spec.Type)
	return err
}

func validateVectorIndex(idx VectorIndex) error {
	if _, err := quoteAll(idx.Name, idx.Label, idx.Property); err != nil {
		return err
	}
	if idx.Dimension <= 0 {
		return apperrors.NewBaseError(apperrors.ErrorTypeInput, "vector index dimension must be positive", nil)
	}
	switch idx.Similarity {
	case SimilarityCosine, SimilarityEuclidean:
		return nil
	default:
		return apperrors.NewBaseError(apperrors.ErrorTypeInput, "unsupported similarity function: "+idx.Similarity, nil)
	}
}
