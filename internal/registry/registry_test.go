package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, reg.Codes())
	assert.NotEmpty(t, reg.AmbiguousCodes())
	assert.NotEmpty(t, reg.Tests())
	assert.Contains(t, reg.Keywords(), "ctdna")
}

func TestDefault_NoCodeIsBothAmbiguousAndAuthoritative(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	for _, code := range reg.AmbiguousCodes() {
		_, ok := reg.Code(code)
		assert.False(t, ok, "ambiguous code %s also has an authoritative entry", code)
	}
}

func TestLoad_RejectsOverlap(t *testing.T) {
	t.Parallel()

	data := []byte(`
codes:
  - {code: "81479", test_id: t1, test_name: T1, vendor: V, category: MRD, status: active}
ambiguous_codes:
  - {code: "81479", reason: unlisted}
`)
	_, err := Load(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both ambiguous and authoritative")
}

func TestLoad_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad status", `codes: [{code: 0001U, test_id: t, category: MRD, status: pending}]`, "unknown status"},
		{"bad category", `codes: [{code: 0001U, test_id: t, category: XYZ, status: active}]`, "unknown category"},
		{"missing test id", `codes: [{code: 0001U, category: MRD, status: active}]`, "no test_id"},
		{"duplicate code", `codes: [{code: 0001U, test_id: a, category: MRD, status: active}, {code: 0001u, test_id: b, category: MRD, status: active}]`, "duplicate code"},
		{"bad pattern", `tests: [{id: a, name: A, patterns: ['(unclosed']}]`, "pattern"},
		{"no patterns", `tests: [{id: a, name: A}]`, "no patterns"},
		{"malformed", `codes: [`, "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCode_CaseInsensitive(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	c, ok := reg.Code("0340u")
	require.True(t, ok)
	assert.Equal(t, "natera-signatera", c.TestID)
	assert.Equal(t, StatusActive, c.Status)
}

func TestAmbiguous_ReturnsCopy(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	a, ok := reg.Ambiguous("81479")
	require.True(t, ok)
	require.NotEmpty(t, a.Candidates)
	a.Candidates[0] = "mutated"

	again, _ := reg.Ambiguous("81479")
	assert.NotEqual(t, "mutated", again.Candidates[0])
}

func TestMatchers_PatternsCaseInsensitive(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	var found bool
	for _, m := range reg.Matchers() {
		if m.Test.ID == "natera-signatera" {
			found = true
			assert.True(t, m.Patterns[0].MatchString("SIGNATERA results"))
		}
	}
	assert.True(t, found)
}

func TestLookupTest(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	rec, ok := reg.LookupTest("grail-galleri")
	require.True(t, ok)
	assert.Equal(t, "Galleri", rec.Name)

	_, ok = reg.LookupTest("does-not-exist")
	assert.False(t, ok)
}

func TestLookupTest_CodeOnlyUsesFirstEntry(t *testing.T) {
	t.Parallel()

	reg, err := Load([]byte(`
codes:
  - {code: 0001U, test_id: shared, test_name: First, vendor: V1, category: MRD, status: active}
  - {code: 0002U, test_id: shared, test_name: Second, vendor: V2, category: MRD, status: active}
  - {code: 0003U, test_id: other, test_name: Other, vendor: V3, category: ECD, status: retired}
`))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		rec, ok := reg.LookupTest("shared")
		require.True(t, ok)
		assert.Equal(t, "First", rec.Name)
		assert.Equal(t, "V1", rec.Vendor)
	}

	rec, ok := reg.LookupTest("other")
	require.True(t, ok)
	assert.Equal(t, "ECD", rec.Category)
}

func TestKeywordMatchers(t *testing.T) {
	t.Parallel()

	reg, err := Load([]byte(`category_keywords: [" MRD ", mrd, ctdna, "cell-free dna"]`))
	require.NoError(t, err)

	kms := reg.KeywordMatchers()
	require.Len(t, kms, 3)
	assert.Equal(t, []string{"mrd", "ctdna", "cell-free dna"}, reg.Keywords())
	assert.True(t, kms[0].Pattern.MatchString("Tumor-informed MRD assay"))
	assert.False(t, kms[0].Pattern.MatchString("mrdx"))
	assert.True(t, kms[2].Pattern.MatchString("Cell-free DNA analysis"))
}

func TestRecords(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	recs := reg.Records()
	require.Len(t, recs, len(reg.Tests()))
	assert.Equal(t, reg.Tests()[0].ID, recs[0].ID)
	assert.Equal(t, "Signatera", recs[0].Name)
}

func TestIsLiquidBiopsyCode(t *testing.T) {
	t.Parallel()

	reg, err := Default()
	require.NoError(t, err)

	assert.True(t, reg.IsLiquidBiopsyCode("81462"))
	assert.False(t, reg.IsLiquidBiopsyCode("0340U"))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tests: [{id: a, name: Alpha, patterns: ['\balpha\b']}]`), 0o644))

	reg, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, reg.Tests(), 1)

	_, err = Open(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err := Open("")
	require.NoError(t, err)
	assert.Greater(t, len(def.Tests()), 1)
}
