package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"caregraph/backend/pkg/config"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// Repository implements Store on Neo4j
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph"),
	}
}

// Connect opens a driver from configuration and verifies connectivity
func Connect(ctx context.Context, cfg *config.Config) (*Repository, error) {
	timeout := time.Duration(cfg.Neo4jTimeoutSeconds) * time.Second

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.Neo4jMaxPoolSize
			c.SocketConnectTimeout = timeout
		},
	)
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)
	}

	return NewRepository(driver, cfg.Neo4jDatabase), nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

// writeSingle runs query in one managed write transaction and returns its
// single result record.
func (r *Repository) writeSingle(ctx context.Context, query string, params map[string]any) (*neo4j.Record, error) {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*neo4j.Record), nil
}

// runSchema executes a schema statement outside an explicit transaction
func (r *Repository) runSchema(ctx context.Context, query string) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, nil)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// EnsureIndex creates a property index if it does not exist
func (r *Repository) EnsureIndex(ctx context.Context, label, property string) error {
	q, err := quoteAll(label, property)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.%s)", q[0], q[1])
	if err := r.runSchema(ctx, query); err != nil {
		return fmt.Errorf("failed to create index on %s.%s: %w", label, property, err)
	}
	return nil
}

// CreateVectorIndex creates a vector index if it does not exist
func (r *Repository) CreateVectorIndex(ctx context.Context, idx VectorIndex) error {
	if err := validateVectorIndex(idx); err != nil {
		return err
	}
	q, _ := quoteAll(idx.Name, idx.Label, idx.Property)

	// Dimension and similarity are validated above; index options do not accept parameters
	query := fmt.Sprintf(
		"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		q[0], q[1], q[2], idx.Dimension, idx.Similarity,
	)
	if err := r.runSchema(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index %s: %w", idx.Name, err)
	}

	r.logger.Info("Vector index ensured",
		zap.String("index", idx.Name),
		zap.String("label", idx.Label),
		zap.Int("dimension", idx.Dimension),
	)
	return nil
}

// UpsertNodes merges nodes by key and unions their properties
func (r *Repository) UpsertNodes(ctx context.Context, label, keyProperty string, rows []NodeRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}
	q, err := quoteAll(label, keyProperty)
	if err != nil {
		return stats, err
	}

	query := fmt.Sprintf(`
		UNWIND $rows AS row
		MERGE (n:%s {%s: row.key})
		SET n += row.props
		RETURN count(n) AS matched
	`, q[0], q[1])

	params := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		params = append(params, map[string]any{"key": row.Key, "props": row.Props})
	}

	record, err := r.writeSingle(ctx, query, map[string]any{"rows": params})
	if err != nil {
		return stats, fmt.Errorf("failed to upsert %s nodes: %w", label, err)
	}
	stats.Matched = getIntFromRecord(record, "matched")
	return stats, nil
}

// MergeBuckets merges one shared node per distinct value
func (r *Repository) MergeBuckets(ctx context.Context, label, keyProperty string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	q, err := quoteAll(label, keyProperty)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UNWIND $values AS v
		MERGE (b:%s {%s: v})
		RETURN count(b) AS merged
	`, q[0], q[1])

	if _, err := r.writeSingle(ctx, query, map[string]any{"values": values}); err != nil {
		return fmt.Errorf("failed to merge %s nodes: %w", label, err)
	}
	return nil
}

// LinkDemographics sets derived patient attributes and merges the
// IN_AGE_RANGE, IN_INCOME_RANGE and LIVES_IN edges to existing bucket nodes.
// Edges to buckets the patient no longer falls in are removed.
func (r *Repository) LinkDemographics(ctx context.Context, rows []DemographicRow) (LinkStats, error) {
	var stats LinkStats
	if len(rows) == 0 {
		return stats, nil
	}

	query := `
		UNWIND $rows AS row
		MATCH (p:Patient {Id: row.id})
		SET p.AGE = row.age,
		    p.AGE_RANGE = row.age_range,
		    p.INCOME_RANGE = row.income_range,
		    p.ZIPCODE = row.zipcode
		WITH p, row
		FOREACH (stale IN [(p)-[r:IN_AGE_RANGE]->(b) WHERE b.range <> row.age_range | r] | DELETE stale)
		FOREACH (stale IN [(p)-[r:IN_INCOME_RANGE]->(b) WHERE b.range <> row.income_range | r] | DELETE stale)
		FOREACH (stale IN [(p)-[r:LIVES_IN]->(b) WHERE b.zipcode <> row.zipcode | r] | DELETE stale)
		OPTIONAL MATCH (a:Age_Range {range: row.age_range})
		OPTIONAL MATCH (i:Income_Range {range: row.income_range})
		OPTIONAL MATCH (z:Zipcode {zipcode: row.zipcode})
		FOREACH (x IN CASE WHEN a IS NULL THEN [] ELSE [1] END | MERGE (p)-[:IN_AGE_RANGE]->(a))
		FOREACH (x IN CASE WHEN i IS NULL THEN [] ELSE [1] END | MERGE (p)-[:IN_INCOME_RANGE]->(i))
		FOREACH (x IN CASE WHEN z IS NULL THEN [] ELSE [1] END | MERGE (p)-[:LIVES_IN]->(z))
		RETURN count(p) AS patients,
		       count(a) AS age_links,
		       count(i) AS income_links,
		       count(z) AS zip_links
	`

	params := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var age any
		if row.Age != nil {
			age = int64(*row.Age)
		}
		params = append(params, map[string]any{
			"id":           row.PatientID,
			"age":          age,
			"age_range":    row.AgeRange,
			"income_range": row.IncomeRange,
			"zipcode":      row.Zipcode,
		})
	}

	record, err := r.writeSingle(ctx, query, map[string]any{"rows": params})
	if err != nil {
		return stats, fmt.Errorf("failed to link demographics: %w", err)
	}

	stats.Patients = getIntFromRecord(record, "patients")
	stats.AgeLinks = getIntFromRecord(record, "age_links")
	stats.IncomeLinks = getIntFromRecord(record, "income_links")
	stats.ZipLinks = getIntFromRecord(record, "zip_links")
	return stats, nil
}

// MergeRelationships merges one edge per row when both endpoints exist
func (r *Repository) MergeRelationships(ctx context.Context, spec RelationshipSpec, rows []EdgeRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}
	q, err := quoteAll(spec.SourceLabel, spec.SourceProperty, spec.TargetLabel, spec.TargetProperty, spec.Type)
	if err != nil {
		return stats, err
	}

	pattern := fmt.Sprintf("-[:%s]->", q[4])
	if spec.Direction == Incoming {
		pattern = fmt.Sprintf("<-[:%s]-", q[4])
	}

	query := fmt.Sprintf(`
		UNWIND $rows AS row
		MATCH (s:%s {%s: row.source})
		MATCH (t:%s {%s: row.target})
		MERGE (s)%s(t)
		RETURN count(*) AS matched
	`, q[0], q[1], q[2], q[3], pattern)

	params := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		params = append(params, map[string]any{"source": row.Source, "target": row.Target})
	}

	record, err := r.writeSingle(ctx, query, map[string]any{"rows": params})
	if err != nil {
		return stats, fmt.Errorf("failed to merge %s relationships: %w", spec.Type, err)
	}
	stats.Matched = getIntFromRecord(record, "matched")
	return stats, nil
}

// SetEmbeddings stores vectors on matched nodes
func (r *Repository) SetEmbeddings(ctx context.Context, label, keyProperty string, rows []EmbeddingRow) (WriteStats, error) {
	stats := WriteStats{Rows: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}
	q, err := quoteAll(label, keyProperty)
	if err != nil {
		return stats, err
	}

	query := fmt.Sprintf(`
		UNWIND $rows AS row
		MATCH (n:%s {%s: row.key})
		SET n.embedding = row.embedding
		RETURN count(n) AS matched
	`, q[0], q[1])

	params := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		params = append(params, map[string]any{"key": row.Key, "embedding": toFloat64s(row.Vector)})
	}

	record, err := r.writeSingle(ctx, query, map[string]any{"rows": params})
	if err != nil {
		return stats, fmt.Errorf("failed to set %s embeddings: %w", label, err)
	}
	stats.Matched = getIntFromRecord(record, "matched")
	return stats, nil
}

// GetEmbedding fetches the embedding stored on one node
func (r *Repository) GetEmbedding(ctx context.Context, label, keyProperty, key string) ([]float32, bool, error) {
	q, err := quoteAll(label, keyProperty)
	if err != nil {
		return nil, false, err
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf("MATCH (n:%s {%s: $key}) RETURN n.embedding AS embedding LIMIT 1", q[0], q[1])

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		return getFloat32SliceFromRecord(res.Record(), "embedding"), nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch embedding: %w", err)
	}

	vector, _ := out.([]float32)
	return vector, len(vector) > 0, nil
}

// QueryVectorIndex runs a nearest-neighbour query against a vector index
func (r *Repository) QueryVectorIndex(ctx context.Context, vq VectorQuery) ([]Neighbor, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		CALL db.index.vector.queryNodes($index, $k, $embedding)
		YIELD node, score
		RETURN node[$keyProperty] AS key, score
		ORDER BY score DESC
	`

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"index":       vq.Index,
			"k":           int64(vq.K),
			"embedding":   toFloat64s(vq.Vector),
			"keyProperty": vq.KeyProperty,
		})
		if err != nil {
			return nil, err
		}

		var neighbors []Neighbor
		for res.Next(ctx) {
			record := res.Record()
			neighbors = append(neighbors, Neighbor{
				Key:   getStringFromRecord(record, "key"),
				Score: getFloat64FromRecord(record, "score"),
			})
		}
		return neighbors, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index %s: %w", vq.Index, err)
	}

	neighbors, _ := out.([]Neighbor)
	return neighbors, nil
}

// EligiblePayers finds allow-listed payers that paid claims of the given patients
func (r *Repository) EligiblePayers(ctx context.Context, patientIDs []string, payerNames []string) (map[string][]string, error) {
	eligible := make(map[string][]string)
	if len(patientIDs) == 0 || len(payerNames) == 0 {
		return eligible, nil
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		UNWIND $patientIDs AS pid
		MATCH (p:Patient {Id: pid})-[:HAS_CLAIM]->(:Claim)-[:PAID_BY]->(py:Payer)
		WHERE py.NAME IN $payerNames
		RETURN p.Id AS patient_id, collect(DISTINCT py.NAME) AS eligible_payers
	`

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"patientIDs": patientIDs,
			"payerNames": payerNames,
		})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			record := res.Record()
			eligible[getStringFromRecord(record, "patient_id")] = getStringSliceFromRecord(record, "eligible_payers")
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check eligibility: %w", err)
	}

	return eligible, nil
}
