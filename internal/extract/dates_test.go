package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/model"
)

func TestExtractDateWithPrecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		field     string
		value     string
		precision model.DatePrecision
		rng       *model.DateRange
	}{
		{
			name: "quarter", text: "This policy is effective Q2 2026 for all members.", field: FieldEffective,
			value: "2026-04-01", precision: model.PrecisionQuarter,
			rng: &model.DateRange{Start: "2026-04-01", End: "2026-06-30"},
		},
		{
			name: "ordinal quarter", text: "Becomes effective in the 4th quarter 2025.", field: FieldEffective,
			value: "2025-10-01", precision: model.PrecisionQuarter,
			rng: &model.DateRange{Start: "2025-10-01", End: "2025-12-31"},
		},
		{
			name: "word quarter", text: "Effective first quarter of 2027", field: FieldEffective,
			value: "2027-01-01", precision: model.PrecisionQuarter,
			rng: &model.DateRange{Start: "2027-01-01", End: "2027-03-31"},
		},
		{
			name: "month day year", text: "Effective Date: January 15, 2026", field: FieldEffective,
			value: "2026-01-15", precision: model.PrecisionDay,
		},
		{
			name: "day month year", text: "effective 15 March 2026", field: FieldEffective,
			value: "2026-03-15", precision: model.PrecisionDay,
		},
		{
			name: "us numeric", text: "effective 03/01/2026", field: FieldEffective,
			value: "2026-03-01", precision: model.PrecisionDay,
		},
		{
			name: "iso", text: "Revised 2024-11-30 after review", field: FieldRevised,
			value: "2024-11-30", precision: model.PrecisionDay,
		},
		{
			name: "month", text: "effective January 2026", field: FieldEffective,
			value: "2026-01-01", precision: model.PrecisionMonth,
			rng: &model.DateRange{Start: "2026-01-01", End: "2026-01-31"},
		},
		{
			name: "numeric month leap year", text: "effective 02/2024", field: FieldEffective,
			value: "2024-02-01", precision: model.PrecisionMonth,
			rng: &model.DateRange{Start: "2024-02-01", End: "2024-02-29"},
		},
		{
			name: "earliest match wins", text: "effective in Q3 2026 (memo dated 2026-01-15)", field: FieldEffective,
			value: "2026-07-01", precision: model.PrecisionQuarter,
			rng: &model.DateRange{Start: "2026-07-01", End: "2026-09-30"},
		},
		{
			name: "literal field", text: "Policy sunset: 2027-01-01", field: "sunset",
			value: "2027-01-01", precision: model.PrecisionDay,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractDateWithPrecision(tt.text, tt.field)
			require.NotNil(t, got)
			assert.Equal(t, tt.value, got.Value)
			assert.Equal(t, tt.precision, got.Precision)
			assert.Equal(t, tt.rng, got.Range)
			assert.Equal(t, tt.field, got.Field)
			assert.NotEmpty(t, got.Original)
		})
	}
}

func TestExtractDateWithPrecision_Nil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"no keyword", "Published 2025-03-01", FieldEffective},
		{"no date", "effective immediately upon publication", FieldEffective},
		{"invalid day", "effective 2026-02-30", FieldEffective},
		{"empty text", "", FieldEffective},
		{"empty field", "effective 2026-01-01", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Nil(t, ExtractDateWithPrecision(tt.text, tt.field))
		})
	}
}

func TestExtractAllDates(t *testing.T) {
	t.Parallel()

	text := "Published 2025-01-10. Revised March 2025. Effective Q2 2025."
	dates := ExtractAllDates(text)
	require.Len(t, dates, 3)

	assert.Equal(t, FieldEffective, dates[0].Field)
	assert.Equal(t, model.PrecisionQuarter, dates[0].Precision)
	assert.Equal(t, FieldPublished, dates[1].Field)
	assert.Equal(t, "2025-01-10", dates[1].Value)
	assert.Equal(t, FieldRevised, dates[2].Field)
	assert.Equal(t, model.PrecisionMonth, dates[2].Precision)
}

func dayFact(v string) *model.DateFact {
	return &model.DateFact{Value: v, Precision: model.PrecisionDay}
}

func rangeFact(p model.DatePrecision, start, end string) *model.DateFact {
	return &model.DateFact{Value: start, Precision: p, Range: &model.DateRange{Start: start, End: end}}
}

func TestDatesOverlap(t *testing.T) {
	t.Parallel()

	q2 := rangeFact(model.PrecisionQuarter, "2026-04-01", "2026-06-30")
	may := rangeFact(model.PrecisionMonth, "2026-05-01", "2026-05-31")
	july := rangeFact(model.PrecisionMonth, "2026-07-01", "2026-07-31")

	tests := []struct {
		name string
		a, b *model.DateFact
		want bool
	}{
		{"day in quarter", dayFact("2026-05-15"), q2, true},
		{"day on quarter end", dayFact("2026-06-30"), q2, true},
		{"day outside quarter", dayFact("2026-07-01"), q2, false},
		{"month in quarter", may, q2, true},
		{"disjoint ranges", july, q2, false},
		{"equal days", dayFact("2026-01-01"), dayFact("2026-01-01"), true},
		{"different days", dayFact("2026-01-01"), dayFact("2026-01-02"), false},
		{"nil left", nil, q2, false},
		{"nil right", q2, nil, false},
		{"both nil", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DatesOverlap(tt.a, tt.b))
			assert.Equal(t, DatesOverlap(tt.a, tt.b), DatesOverlap(tt.b, tt.a), "overlap must be symmetric")
		})
	}
}
