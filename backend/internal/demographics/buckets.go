// Package demographics derives the categorical buckets patients are linked to.
// Every function is total: unparseable input maps to a sentinel, never an error.
package demographics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Unknown is the bucket assigned when the underlying attribute is missing or unparseable.
const Unknown = "Unknown"

// Age buckets, upper bounds exclusive.
const (
	AgeChild      = "0-17"
	AgeYoungAdult = "18-29"
	AgeAdult      = "30-44"
	AgeMiddle     = "45-64"
	AgeSenior     = "65+"
)

// Income buckets, upper bounds exclusive.
const (
	IncomeLow      = "<20k"
	IncomeLowerMid = "20k-50k"
	IncomeUpperMid = "50k-100k"
	IncomeHigh     = "100k+"
)

// AgeBuckets lists the age buckets in ascending order, Unknown first.
var AgeBuckets = []string{Unknown, AgeChild, AgeYoungAdult, AgeAdult, AgeMiddle, AgeSenior}

// IncomeBuckets lists the income buckets in ascending order, Unknown first.
var IncomeBuckets = []string{Unknown, IncomeLow, IncomeLowerMid, IncomeUpperMid, IncomeHigh}

// DefaultReferenceDate keeps derived ages stable across runs.
var DefaultReferenceDate = time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)

const (
	daysPerYear   = 365.25
	secondsPerDay = 86400
)

// Age returns whole 365.25-day years between birthDate and ref, or nil when
// birthDate cannot be parsed.
func Age(birthDate any, ref time.Time) *int {
	s := strings.TrimSpace(toString(birthDate))
	if s == "" {
		return nil
	}
	bd, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	// time.Duration caps at ~292 years
	days := math.Floor(float64(ref.Unix()-bd.Unix()) / secondsPerDay)
	years := int(math.Floor(days / daysPerYear))
	return &years
}

// AgeBucket maps an age to its bucket; nil maps to Unknown.
func AgeBucket(age *int) string {
	if age == nil {
		return Unknown
	}
	switch a := *age; {
	case a < 18:
		return AgeChild
	case a < 30:
		return AgeYoungAdult
	case a < 45:
		return AgeAdult
	case a < 65:
		return AgeMiddle
	default:
		return AgeSenior
	}
}

// IncomeBucket maps a raw income value (number or numeric string) to its bucket.
func IncomeBucket(income any) string {
	v, ok := toFloat(income)
	if !ok {
		return Unknown
	}
	switch {
	case v < 20000:
		return IncomeLow
	case v < 50000:
		return IncomeLowerMid
	case v < 100000:
		return IncomeUpperMid
	default:
		return IncomeHigh
	}
}

// ZipKey returns the canonical string form of a zip code. String input keeps
// its leading zeros; integral numbers drop a spurious ".0".
func ZipKey(zip any) string {
	switch v := zip.(type) {
	case nil:
		return Unknown
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Unknown
		}
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return ZipKey(float64(v))
	}
	s := strings.TrimSpace(toString(zip))
	if s == "" {
		return Unknown
	}
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.ParseInt(strings.TrimSuffix(s, ".0"), 10, 64); err == nil {
			s = strings.TrimSuffix(s, ".0")
		}
	}
	return s
}

// Profile holds the derived demographic attributes of one patient.
type Profile struct {
	Age         *int   `json:"age"`
	AgeRange    string `json:"age_range"`
	IncomeRange string `json:"income_range"`
	Zipcode     string `json:"zipcode"`
}

// Derive computes all demographic attributes from the raw patient columns.
func Derive(birthDate, income, zip any, ref time.Time) Profile {
	age := Age(birthDate, ref)
	return Profile{
		Age:         age,
		AgeRange:    AgeBucket(age),
		IncomeRange: IncomeBucket(income),
		Zipcode:     ZipKey(zip),
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
