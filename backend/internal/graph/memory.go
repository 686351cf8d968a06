package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "caregraph/backend/pkg/errors"
)

type nodeRef struct {
	label string
	key   string
}

type edge struct {
	from nodeRef
	rel  string
	to   nodeRef
}

// MemoryStore is an in-process Store with the same merge semantics as
// Repository. It backs unit tests and the -store memory build mode.
type MemoryStore struct {
	mu sync.RWMutex

	nodes    map[string]map[string]map[string]any // label -> key -> props
	keyProps map[string]string                    // label -> key property
	edges    map[edge]struct{}
	indexes  map[string]map[string]bool // label -> property
	vectors  map[string]VectorIndex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]map[string]map[string]any),
		keyProps: make(map[string]string),
		edges:    make(map[edge]struct{}),
		indexes:  make(map[string]map[string]bool),
		vectors:  make(map[string]VectorIndex),
	}
}

func (m *MemoryStore) EnsureIndex(_ context.Context, label, property string) error {
	if _, err := quoteAll(label, property); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexes[label] == nil {
		m.indexes[label] = make(map[string]bool)
	}
	m.indexes[label][property] = true
	return nil
}

func (m *MemoryStore) CreateVectorIndex(_ context.Context, idx VectorIndex) error {
	if err := validateVectorIndex(idx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vectors[idx.Name]; !exists {
		m.vectors[idx.Name] = idx
	}
	return nil
}

func (m *MemoryStore) UpsertNodes(_ context.Context, label, keyProperty string, rows []NodeRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if _, err := quoteAll(label, keyProperty); err != nil {
		return stats, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		props := m.mergeNode(label, keyProperty, row.Key)
		for k, v := range row.Props {
			if v == nil {
				delete(props, k)
				continue
			}
			props[k] = v
		}
		props[keyProperty] = row.Key
		stats.Matched++
	}
	return stats, nil
}

func (m *MemoryStore) MergeBuckets(_ context.Context, label, keyProperty string, values []string) error {
	if _, err := quoteAll(label, keyProperty); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range values {
		m.mergeNode(label, keyProperty, v)
	}
	return nil
}

func (m *MemoryStore) LinkDemographics(_ context.Context, rows []DemographicRow) (LinkStats, error) {
	var stats LinkStats
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		patient, ok := m.lookup(LabelPatient, KeyID, row.PatientID)
		if !ok {
			continue
		}
		stats.Patients++

		props := m.nodes[LabelPatient][patient.key]
		if row.Age != nil {
			props[PropAge] = int64(*row.Age)
		} else {
			delete(props, PropAge)
		}
		props[PropAgeRange] = row.AgeRange
		props[PropIncomeRange] = row.IncomeRange
		props[PropZipcode] = row.Zipcode

		m.dropStale(patient, RelInAgeRange, KeyRange, row.AgeRange)
		m.dropStale(patient, RelInIncomeRange, KeyRange, row.IncomeRange)
		m.dropStale(patient, RelLivesIn, KeyZipcode, row.Zipcode)
		if b, ok := m.lookup(LabelAgeRange, KeyRange, row.AgeRange); ok {
			m.edges[edge{patient, RelInAgeRange, b}] = struct{}{}
			stats.AgeLinks++
		}
		if b, ok := m.lookup(LabelIncomeRange, KeyRange, row.IncomeRange); ok {
			m.edges[edge{patient, RelInIncomeRange, b}] = struct{}{}
			stats.IncomeLinks++
		}
		if b, ok := m.lookup(LabelZipcode, KeyZipcode, row.Zipcode); ok {
			m.edges[edge{patient, RelLivesIn, b}] = struct{}{}
			stats.ZipLinks++
		}
	}
	return stats, nil
}

func (m *MemoryStore) MergeRelationships(_ context.Context, spec RelationshipSpec, rows []EdgeRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if err := validateSpec(spec); err != nil {
		return stats, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		sources := m.find(spec.SourceLabel, spec.SourceProperty, row.Source)
		targets := m.find(spec.TargetLabel, spec.TargetProperty, row.Target)
		for _, s := range sources {
			for _, t := range targets {
				if spec.Direction == Incoming {
					m.edges[edge{t, spec.Type, s}] = struct{}{}
				} else {
					m.edges[edge{s, spec.Type, t}] = struct{}{}
				}
				stats.Matched++
			}
		}
	}
	return stats, nil
}

func (m *MemoryStore) SetEmbeddings(_ context.Context, label, keyProperty string, rows []EmbeddingRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if _, err := quoteAll(label, keyProperty); err != nil {
		return stats, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		for _, ref := range m.find(label, keyProperty, row.Key) {
			m.nodes[label][ref.key][PropEmbedding] = append([]float32(nil), row.Vector...)
			stats.Matched++
		}
	}
	return stats, nil
}

func (m *MemoryStore) GetEmbedding(_ context.Context, label, keyProperty, key string) ([]float32, bool, error) {
	if _, err := quoteAll(label, keyProperty); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := m.find(label, keyProperty, key)
	if len(refs) == 0 {
		return nil, false, nil
	}
	vector, ok := m.nodes[label][refs[0].key][PropEmbedding].([]float32)
	if !ok || len(vector) == 0 {
		return nil, false, nil
	}
	return append([]float32(nil), vector...), true, nil
}

func (m *MemoryStore) QueryVectorIndex(_ context.Context, q VectorQuery) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.vectors[q.Index]
	if !ok {
		return nil, apperrors.NewBaseError(apperrors.ErrorTypeGraph, fmt.Sprintf("no such vector index: %s", q.Index), nil)
	}
	if len(q.Vector) != idx.Dimension {
		return nil, apperrors.NewEmbeddingDimension(idx.Dimension, len(q.Vector))
	}
	if q.K <= 0 {
		return []Neighbor{}, nil
	}

	var hits []Neighbor
	for _, props := range m.nodes[idx.Label] {
		vector, ok := props[idx.Property].([]float32)
		if !ok || len(vector) != idx.Dimension {
			continue
		}
		key, _ := props[q.KeyProperty].(string)
		hits = append(hits, Neighbor{Key: key, Score: score(idx.Similarity, q.Vector, vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func (m *MemoryStore) EligiblePayers(_ context.Context, patientIDs []string, payerNames []string) (map[string][]string, error) {
	eligible := make(map[string][]string)
	if len(patientIDs) == 0 || len(payerNames) == 0 {
		return eligible, nil
	}
	allowed := make(map[string]bool, len(payerNames))
	for _, n := range payerNames {
		allowed[n] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	claimsOf := make(map[nodeRef][]nodeRef)
	payersOf := make(map[nodeRef][]nodeRef)
	for e := range m.edges {
		switch {
		case e.rel == RelHasClaim && e.from.label == LabelPatient && e.to.label == LabelClaim:
			claimsOf[e.from] = append(claimsOf[e.from], e.to)
		case e.rel == RelPaidBy && e.from.label == LabelClaim && e.to.label == LabelPayer:
			payersOf[e.from] = append(payersOf[e.from], e.to)
		}
	}

	for _, pid := range patientIDs {
		patient, ok := m.lookup(LabelPatient, KeyID, pid)
		if !ok {
			continue
		}
		names := make(map[string]bool)
		for _, claim := range claimsOf[patient] {
			for _, payer := range payersOf[claim] {
				name, _ := m.nodes[LabelPayer][payer.key][PropPayerName].(string)
				if allowed[name] {
					names[name] = true
				}
			}
		}
		if len(names) == 0 {
			continue
		}
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		eligible[pid] = list
	}
	return eligible, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

// ============================================================================
// Inspection
// ============================================================================

// NodeCount returns the number of nodes with label
func (m *MemoryStore) NodeCount(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes[label])
}

// Node returns a copy of the properties of one node
func (m *MemoryStore) Node(label, key string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	props, ok := m.nodes[label][key]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, true
}

// EdgeCount returns the number of relationships of type rel
func (m *MemoryStore) EdgeCount(rel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for e := range m.edges {
		if e.rel == rel {
			n++
		}
	}
	return n
}

// HasEdge reports whether (fromLabel {key: fromKey})-[:rel]->(toLabel {key: toKey}) exists
func (m *MemoryStore) HasEdge(fromLabel, fromKey, rel, toLabel, toKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.edges[edge{nodeRef{fromLabel, fromKey}, rel, nodeRef{toLabel, toKey}}]
	return ok
}

// HasIndex reports whether a property index was ensured
func (m *MemoryStore) HasIndex(label, property string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexes[label][property]
}

// HasVectorIndex reports whether a vector index exists
func (m *MemoryStore) HasVectorIndex(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vectors[name]
	return ok
}

// mergeNode returns the props of (label {keyProperty: key}), creating it if absent.
// Caller holds the write lock.
func (m *MemoryStore) mergeNode(label, keyProperty, key string) map[string]any {
	if m.nodes[label] == nil {
		m.nodes[label] = make(map[string]map[string]any)
	}
	if _, ok := m.keyProps[label]; !ok {
		m.keyProps[label] = keyProperty
	}
	if keyProperty == m.keyProps[label] {
		if props, ok := m.nodes[label][key]; ok {
			return props
		}
		props := map[string]any{keyProperty: key}
		m.nodes[label][key] = props
		return props
	}
	if refs := m.find(label, keyProperty, key); len(refs) > 0 {
		return m.nodes[label][refs[0].key]
	}
	// keyed by a secondary property; store under a synthetic primary key
	synthetic := keyProperty + ":" + key
	props := map[string]any{keyProperty: key}
	m.nodes[label][synthetic] = props
	return props
}

// dropStale removes rel edges from 'from' whose target property differs from keep
func (m *MemoryStore) dropStale(from nodeRef, rel, property, keep string) {
	for e := range m.edges {
		if e.from != from || e.rel != rel {
			continue
		}
		if v, _ := m.nodes[e.to.label][e.to.key][property].(string); v != keep {
			delete(m.edges, e)
		}
	}
}

func (m *MemoryStore) lookup(label, property, value string) (nodeRef, bool) {
	refs := m.find(label, property, value)
	if len(refs) == 0 {
		return nodeRef{}, false
	}
	return refs[0], true
}

// find returns every node of label whose property equals value
func (m *MemoryStore) find(label, property, value string) []nodeRef {
	nodes := m.nodes[label]
	if nodes == nil {
		return nil
	}
	if property == m.keyProps[label] {
		if _, ok := nodes[value]; ok {
			return []nodeRef{{label, value}}
		}
		return nil
	}
	var refs []nodeRef
	for key, props := range nodes {
		if v, ok := props[property].(string); ok && v == value {
			refs = append(refs, nodeRef{label, key})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].key < refs[j].key })
	return refs
}

// score mirrors the vector index scoring: cosine maps to (1+cos)/2 and
// euclidean to 1/(1+d²), so higher is always closer
func score(similarity string, a, b []float32) float64 {
	if similarity == SimilarityEuclidean {
		var d float64
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			d += diff * diff
		}
		return 1 / (1 + d)
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return (1 + dot/(math.Sqrt(na)*math.Sqrt(nb))) / 2
}
