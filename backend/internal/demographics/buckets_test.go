package demographics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestAge(t *testing.T) {
	ref := DefaultReferenceDate

	tests := []struct {
		name  string
		birth any
		want  *int
	}{
		{"iso date", "1985-01-01", intPtr(40)},
		{"us date", "8/15/1985", intPtr(39)},
		{"eighteenth birthday", "2007-05-16", intPtr(18)},
		{"day before eighteenth birthday", "2007-05-17", intPtr(17)},
		{"empty", "", nil},
		{"nil", nil, nil},
		{"garbage", "not a date", nil},
		{"future", "2025-06-01", intPtr(-1)},
		{"over three centuries", "1700-01-01", intPtr(325)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Age(tt.birth, ref)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestAge_UsesSuppliedReference(t *testing.T) {
	a := Age("2000-01-01", time.Date(2010, 1, 2, 0, 0, 0, 0, time.UTC))
	b := Age("2000-01-01", time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, 10, *a)
	assert.Equal(t, 30, *b)
}

func TestAgeBucket_Boundaries(t *testing.T) {
	boundaries := []struct {
		age   int
		below string
		at    string
	}{
		{18, AgeChild, AgeYoungAdult},
		{30, AgeYoungAdult, AgeAdult},
		{45, AgeAdult, AgeMiddle},
		{65, AgeMiddle, AgeSenior},
	}

	for _, b := range boundaries {
		assert.Equal(t, b.below, AgeBucket(intPtr(b.age-1)), "age %d", b.age-1)
		assert.Equal(t, b.at, AgeBucket(intPtr(b.age)), "age %d", b.age)
	}

	assert.Equal(t, Unknown, AgeBucket(nil))
	assert.Equal(t, AgeChild, AgeBucket(intPtr(0)))
	assert.Equal(t, AgeSenior, AgeBucket(intPtr(120)))
}

func TestIncomeBucket(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{19999.99, IncomeLow},
		{20000, IncomeLowerMid},
		{"49999", IncomeLowerMid},
		{"50000", IncomeUpperMid},
		{int64(99999), IncomeUpperMid},
		{100000.0, IncomeHigh},
		{" 250000 ", IncomeHigh},
		{"", Unknown},
		{nil, Unknown},
		{"n/a", Unknown},
		{math.NaN(), Unknown},
		{true, Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IncomeBucket(tt.in), "income %v", tt.in)
	}
}

func TestIncomeBucket_Monotonic(t *testing.T) {
	order := map[string]int{}
	for i, b := range IncomeBuckets {
		order[b] = i
	}

	prev := order[IncomeBucket(0)]
	for income := 0; income <= 200000; income += 250 {
		cur := order[IncomeBucket(income)]
		assert.GreaterOrEqual(t, cur, prev, "income %d", income)
		prev = cur
	}
}

func TestZipKey(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"02134", "02134"},
		{" 90210 ", "90210"},
		{"90210.0", "90210"},
		{90210, "90210"},
		{90210.0, "90210"},
		{"", Unknown},
		{nil, Unknown},
		{math.NaN(), Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ZipKey(tt.in), "zip %v", tt.in)
	}
}

func TestDerive(t *testing.T) {
	p := Derive("1985-01-01", "75000", "90210", DefaultReferenceDate)

	require.NotNil(t, p.Age)
	assert.Equal(t, 40, *p.Age)
	assert.Equal(t, AgeAdult, p.AgeRange)
	assert.Equal(t, IncomeUpperMid, p.IncomeRange)
	assert.Equal(t, "90210", p.Zipcode)
}
