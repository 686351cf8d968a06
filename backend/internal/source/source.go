// Package source loads the tabular datasets the graph is built from.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Dataset names, one file per dataset under the data directory
const (
	Patients    = "patients"
	Encounters  = "encounters"
	Providers   = "providers"
	Payers      = "payers"
	Claims      = "claims"
	Medications = "medications"
)

// Datasets lists every dataset in load order
var Datasets = []string{Patients, Encounters, Providers, Payers, Claims, Medications}

// Formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Record is one row: column name to cell value. Empty cells are absent.
type Record map[string]any

// Source yields the rows of a named dataset
type Source interface {
	Load(ctx context.Context, dataset string) ([]Record, error)
}

// ErrDatasetNotFound is returned when a dataset file does not exist
var ErrDatasetNotFound = errors.New("dataset not found")

type parseFunc func(path string) ([]Record, error)

// FileSource reads <dir>/<dataset>.<format>. Each dataset is parsed once and
// shared by concurrent callers.
type FileSource struct {
	dir    string
	format string
	parse  parseFunc

	cache   map[string][]Record
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewFileSource creates a source for format ("csv" or "xlsx") rooted at dir
func NewFileSource(dir, format string) (*FileSource, error) {
	var parse parseFunc
	switch strings.ToLower(format) {
	case FormatCSV:
		parse = parseCSVFile
	case FormatXLSX:
		parse = parseXLSXFile
	default:
		return nil, fmt.Errorf("unsupported data format %q", format)
	}

	return &FileSource{
		dir:    dir,
		format: strings.ToLower(format),
		parse:  parse,
		cache:  make(map[string][]Record),
	}, nil
}

// Path returns the file backing dataset
func (s *FileSource) Path(dataset string) string {
	return filepath.Join(s.dir, dataset+"."+s.format)
}

// Load returns all rows of dataset. Callers must not mutate the returned records.
func (s *FileSource) Load(ctx context.Context, dataset string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.cacheMu.RLock()
	if cached, ok := s.cache[dataset]; ok {
		s.cacheMu.RUnlock()
		return cached, nil
	}
	s.cacheMu.RUnlock()

	result, err, _ := s.group.Do(dataset, func() (any, error) {
		path := s.Path(dataset)
		records, err := s.parse(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		s.cacheMu.Lock()
		s.cache[dataset] = records
		s.cacheMu.Unlock()
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]Record), nil
}

// MemorySource serves fixed records, used for tests and programmatic builds
type MemorySource map[string][]Record

// Load returns the records for dataset or ErrDatasetNotFound
func (m MemorySource) Load(ctx context.Context, dataset string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, ok := m[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, dataset)
	}
	return records, nil
}

// fromRows builds records from a header row and data rows, trimming cells
// and dropping empty ones
func fromRows(header []string, rows [][]string) []Record {
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(columns))
		for i, col := range columns {
			if col == "" || i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				rec[col] = v
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records
}
