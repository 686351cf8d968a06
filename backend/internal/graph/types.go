package graph

import "strings"

// ============================================================================
// Graph Schema
// ============================================================================

// Node labels
const (
	LabelPatient     = "Patient"
	LabelProvider    = "Provider"
	LabelPayer       = "Payer"
	LabelEncounter   = "Encounter"
	LabelClaim       = "Claim"
	LabelMedication  = "Medication"
	LabelAgeRange    = "Age_Range"
	LabelIncomeRange = "Income_Range"
	LabelZipcode     = "Zipcode"
)

// Key and well-known properties
const (
	KeyID      = "Id"
	KeyCode    = "CODE"
	KeyRange   = "range"
	KeyZipcode = "zipcode"

	PropEmbedding   = "embedding"
	PropPayerName   = "NAME"
	PropAge         = "AGE"
	PropAgeRange    = "AGE_RANGE"
	PropIncomeRange = "INCOME_RANGE"
	PropZipcode     = "ZIPCODE"
)

// Relationship types
const (
	RelHasEncounter  = "HAS_ENCOUNTER"
	RelAttendedBy    = "ATTENDED_BY"
	RelBilledBy      = "BILLED_BY"
	RelHasClaim      = "HAS_CLAIM"
	RelProvidedBy    = "PROVIDED_BY"
	RelPaidBy        = "PAID_BY"
	RelHasMedication = "HAS_MEDICATION"
	RelCoveredBy     = "COVERED_BY"
	RelInAgeRange    = "IN_AGE_RANGE"
	RelInIncomeRange = "IN_INCOME_RANGE"
	RelLivesIn       = "LIVES_IN"
)

// KeyIndexes lists the (label, key property) pairs indexed before any write.
var KeyIndexes = []struct{ Label, Property string }{
	{LabelPatient, KeyID},
	{LabelEncounter, KeyID},
	{LabelProvider, KeyID},
	{LabelPayer, KeyID},
	{LabelClaim, KeyID},
	{LabelMedication, KeyCode},
	{LabelZipcode, KeyZipcode},
	{LabelAgeRange, KeyRange},
	{LabelIncomeRange, KeyRange},
}

// ============================================================================
// Write Payloads
// ============================================================================

// NodeRow is one node to upsert: Key identifies it, Props are merged onto it.
type NodeRow struct {
	Key   string
	Props map[string]any
}

// EdgeRow names the two endpoint keys of one relationship.
type EdgeRow struct {
	Source string
	Target string
}

// DemographicRow carries the derived attributes of one patient.
type DemographicRow struct {
	PatientID   string
	Age         *int
	AgeRange    string
	IncomeRange string
	Zipcode     string
}

// EmbeddingRow is the vector to store on one node.
type EmbeddingRow struct {
	Key    string
	Vector []float32
}

// Direction of a relationship relative to the source endpoint.
type Direction int

const (
	Outgoing Direction = iota // (source)-[:TYPE]->(target)
	Incoming                  // (source)<-[:TYPE]-(target)
)

// RelationshipSpec describes how to match both endpoints of a relationship.
type RelationshipSpec struct {
	SourceLabel    string
	SourceProperty string
	TargetLabel    string
	TargetProperty string
	Type           string
	Direction      Direction
}

// WriteStats reports how many submitted rows matched existing nodes.
type WriteStats struct {
	Rows    int `json:"rows"`
	Matched int `json:"matched"`
}

// Skipped is the number of rows that produced no write.
func (s WriteStats) Skipped() int {
	return s.Rows - s.Matched
}

// Add accumulates another batch.
func (s WriteStats) Add(o WriteStats) WriteStats {
	return WriteStats{Rows: s.Rows + o.Rows, Matched: s.Matched + o.Matched}
}

// LinkStats reports demographic edges per kind for one write.
type LinkStats struct {
	Patients    int `json:"patients"`
	AgeLinks    int `json:"age_links"`
	IncomeLinks int `json:"income_links"`
	ZipLinks    int `json:"zip_links"`
}

// Add accumulates another batch.
func (s LinkStats) Add(o LinkStats) LinkStats {
	return LinkStats{
		Patients:    s.Patients + o.Patients,
		AgeLinks:    s.AgeLinks + o.AgeLinks,
		IncomeLinks: s.IncomeLinks + o.IncomeLinks,
		ZipLinks:    s.ZipLinks + o.ZipLinks,
	}
}

// ============================================================================
// Vector Index
// ============================================================================

// Similarity functions supported by vector indexes
const (
	SimilarityCosine    = "cosine"
	SimilarityEuclidean = "euclidean"
)

// VectorIndex describes a vector index over one node property.
type VectorIndex struct {
	Name       string
	Label      string
	Property   string
	Dimension  int
	Similarity string
}

// EmbeddingIndexName is the conventional vector index name for a label.
func EmbeddingIndexName(label string) string {
	return strings.ToLower(label) + "_embedding_index"
}

// VectorQuery asks for the K nodes closest to Vector.
type VectorQuery struct {
	Index       string
	KeyProperty string
	K           int
	Vector      []float32
}

// Neighbor is one vector index hit.
type Neighbor struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}
