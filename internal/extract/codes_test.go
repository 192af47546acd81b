package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return reg
}

func TestExtractCodes_Families(t *testing.T) {
	t.Parallel()

	text := "Billed under 0340u and 81479; also G0327, J9999, C18.2, C50 and office visit 99213."
	codes := ExtractCodes(text)

	assert.Equal(t, []string{"81479"}, codes.CPT)
	assert.Equal(t, []string{"0340U"}, codes.PLA)
	assert.Equal(t, []string{"G0327"}, codes.HCPCS)
	assert.Equal(t, []string{"C18.2", "C50"}, codes.ICD10)
}

func TestExtractCodes_CPTRange(t *testing.T) {
	t.Parallel()

	codes := ExtractCodes("79999 80000 89999 90000")
	assert.Equal(t, []string{"80000", "89999"}, codes.CPT)
}

func TestExtractCodes_DedupedAndSorted(t *testing.T) {
	t.Parallel()

	codes := ExtractCodes("0364U, 0340U, 0340U and 0340u")
	assert.Equal(t, []string{"0340U", "0364U"}, codes.PLA)
}

func TestExtractCodes_Empty(t *testing.T) {
	t.Parallel()

	codes := ExtractCodes("")
	assert.True(t, codes.Empty())
	assert.Empty(t, codes.All())
}

func TestMapCodeToTest_AmbiguousNeverResolves(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	for _, code := range reg.AmbiguousCodes() {
		m := MapCodeToTest(reg, code)
		assert.True(t, m.Ambiguous, code)
		assert.Less(t, m.Confidence, 0.5, code)
		assert.Empty(t, m.TestID, code)
		assert.Equal(t, HandlingFlagForReview, m.Handling, code)
		assert.NotEmpty(t, m.Candidates, code)
	}
}

func TestMapCodeToTest_ActiveCodesResolve(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	for _, code := range reg.Codes() {
		entry, _ := reg.Code(code)
		if entry.Status != registry.StatusActive {
			continue
		}
		m := MapCodeToTest(reg, code)
		assert.False(t, m.Ambiguous, code)
		assert.Greater(t, m.Confidence, 0.9, code)
		assert.Equal(t, entry.TestID, m.TestID, code)
	}
}

func TestMapCodeToTest_Cases(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	tests := []struct {
		name     string
		code     string
		wantConf float64
		wantID   string
		unknown  bool
	}{
		{"active", "0340U", 0.95, "natera-signatera", false},
		{"lowercase", " 0340u ", 0.95, "natera-signatera", false},
		{"retired", "0179U", 0.5, "resolution-ctdx-lung", false},
		{"unknown", "0999U", 0, "", true},
		{"empty", "", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := MapCodeToTest(reg, tt.code)
			assert.InDelta(t, tt.wantConf, m.Confidence, 1e-9)
			assert.Equal(t, tt.wantID, m.TestID)
			assert.Equal(t, tt.unknown, m.Unknown)
		})
	}
}

func TestMapCodeToTest_NilRegistry(t *testing.T) {
	t.Parallel()

	m := MapCodeToTest(nil, "0340U")
	assert.True(t, m.Unknown)
	assert.Zero(t, m.Confidence)
}

func TestMapCodes(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	maps := MapCodes(reg, ExtractCodes("0340U and 81479"))
	require.Len(t, maps, 2)
	assert.Equal(t, "81479", maps[0].Code)
	assert.True(t, maps[0].Ambiguous)
	assert.Equal(t, "0340U", maps[1].Code)
}
