package pipeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"caregraph/backend/internal/batch"
	"caregraph/backend/internal/demographics"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/source"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

// LinkResult summarises a demographic linking run
type LinkResult struct {
	graph.LinkStats
	AgeBuckets    int `json:"age_buckets"`
	IncomeBuckets int `json:"income_buckets"`
	Zipcodes      int `json:"zipcodes"`
	MissingKey    int `json:"missing_key"`
}

// Linker derives demographic buckets and attaches patients to them
type Linker struct {
	store     graph.Store
	batchSize int
	reference time.Time
	logger    *zap.Logger
}

// NewLinker creates a demographic linker computing ages against reference
func NewLinker(store graph.Store, batchSize int, reference time.Time) *Linker {
	return &Linker{
		store:     store,
		batchSize: batchSize,
		reference: reference,
		logger:    logger.Named("demographics"),
	}
}

// Profile derives the demographic attributes of one patient record
func (l *Linker) Profile(rec source.Record) demographics.Profile {
	return demographics.Derive(rec[ColBirthDate], rec[ColIncome], rec[ColZip], l.reference)
}

// Link merges every distinct bucket node first, then links patients to them
// batch by batch. Bucket nodes are never created during linking.
func (l *Linker) Link(ctx context.Context, patients []source.Record) (LinkResult, error) {
	var result LinkResult

	rows := make([]graph.DemographicRow, 0, len(patients))
	ages, incomes, zips := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, rec := range patients {
		id, ok := KeyString(rec[ColID])
		if !ok {
			result.MissingKey++
			continue
		}
		p := l.Profile(rec)
		ages[p.AgeRange] = true
		incomes[p.IncomeRange] = true
		zips[p.Zipcode] = true
		rows = append(rows, graph.DemographicRow{
			PatientID:   id,
			Age:         p.Age,
			AgeRange:    p.AgeRange,
			IncomeRange: p.IncomeRange,
			Zipcode:     p.Zipcode,
		})
	}

	buckets := []struct {
		label, key string
		values     []string
	}{
		{graph.LabelAgeRange, graph.KeyRange, sortedKeys(ages)},
		{graph.LabelIncomeRange, graph.KeyRange, sortedKeys(incomes)},
		{graph.LabelZipcode, graph.KeyZipcode, sortedKeys(zips)},
	}
	for _, b := range buckets {
		err := batch.Each(b.values, l.batchSize, func(i int, chunk []string) error {
			if err := ctx.Err(); err != nil {
				return apperrors.NewContextCancelled("demographics", err)
			}
			if err := l.store.MergeBuckets(ctx, b.label, b.key, chunk); err != nil {
				return apperrors.NewBatchFailed("demographics", b.label, i, err)
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}
	result.AgeBuckets, result.IncomeBuckets, result.Zipcodes = len(ages), len(incomes), len(zips)

	err := batch.Each(rows, l.batchSize, func(i int, chunk []graph.DemographicRow) error {
		if err := ctx.Err(); err != nil {
			return apperrors.NewContextCancelled("demographics", err)
		}
		stats, err := l.store.LinkDemographics(ctx, chunk)
		if err != nil {
			return apperrors.NewBatchFailed("demographics", graph.LabelPatient, i, err)
		}
		result.LinkStats = result.LinkStats.Add(stats)
		return nil
	})
	if err != nil {
		return result, err
	}

	l.logger.Info("Linked demographics",
		zap.Int("patients", result.Patients),
		zap.Int("age_links", result.AgeLinks),
		zap.Int("income_links", result.IncomeLinks),
		zap.Int("zip_links", result.ZipLinks),
		zap.Int("zipcodes", result.Zipcodes),
	)
	return result, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
