package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/fingerprint"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

const policyText = `Coverage Indications
Signatera is considered medically necessary for stage II-III colorectal cancer.
Billing: 0340U. Effective date: January 1, 2026.`

func TestExtractDocuments(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	out := extractDocuments(reg, []model.Document{{ID: "doc1", Content: policyText}, {ID: "empty"}})
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Codes.All(), "0340U")
	require.NotEmpty(t, out[0].NamedTests)
	assert.Equal(t, "natera-signatera", out[0].NamedTests[0].ID)
	assert.Empty(t, out[1].Codes.All())
}

func TestFingerprintDocuments_Change(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	docs := []model.Document{{ID: "doc1", Content: policyText}}
	first := fingerprintDocuments(reg, docs, nil)
	require.Len(t, first, 1)
	assert.Empty(t, first[0].Change)
	assert.NotEmpty(t, first[0].Fingerprint.ContentHash)
	assert.Greater(t, first[0].Relevance, 0.0)

	same := fingerprintDocuments(reg, docs, first)
	assert.Equal(t, fingerprint.Unchanged, same[0].Change)

	recoded := []model.Document{{ID: "doc1", Content: policyText + "\nAlso billable as 81479."}}
	next := fingerprintDocuments(reg, recoded, first)
	assert.NotEqual(t, fingerprint.Unchanged, next[0].Change)
}

func TestExtractCommand_CLI(t *testing.T) {
	dir := cliEnv(t)
	path := writeFile(t, dir, "docs.json", `[{"id":"doc1","content":"Billing code 0340U applies."}]`)

	out, err := executeCLI(t, "extract", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0340U")
}
