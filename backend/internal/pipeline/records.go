package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"caregraph/backend/internal/source"
)

// Patient columns
const (
	ColID        = "Id"
	ColFirst     = "FIRST"
	ColLast      = "LAST"
	ColGender    = "GENDER"
	ColBirthDate = "BIRTHDATE"
	ColEthnicity = "ETHNICITY"
	ColRace      = "RACE"
	ColIncome    = "INCOME"
	ColZip       = "ZIP"
)

// KeyString coerces an identifier cell to its string form. ok is false for
// missing or blank identifiers.
func KeyString(v any) (string, bool) {
	s := strings.TrimSpace(ValueString(v))
	return s, s != ""
}

// ValueString coerces a cell to a string; missing becomes empty and
// integral floats lose their fractional part.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return ValueString(float64(t))
	default:
		return fmt.Sprint(t)
	}
}

// loadDataset returns the rows of dataset; a missing dataset yields no rows
func loadDataset(ctx context.Context, src source.Source, dataset string, log *zap.Logger) ([]source.Record, error) {
	records, err := src.Load(ctx, dataset)
	if errors.Is(err, source.ErrDatasetNotFound) {
		log.Warn("Dataset not found, treating as empty", zap.String("dataset", dataset), zap.Error(err))
		return nil, nil
	}
	return records, err
}
