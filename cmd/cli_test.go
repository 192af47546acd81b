package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/store"
)

func seedCLIProposals(t *testing.T, dir string) {
	t.Helper()
	fs := store.NewFile(filepath.Join(dir, "data"))
	ctx := context.Background()
	require.NoError(t, fs.Migrate(ctx))
	for _, p := range []model.Proposal{
		{ID: "p1", Type: model.ProposalCoverage, TestID: "natera-signatera", TestName: "Signatera", Status: model.ProposalPending,
			CoverageUpdates: []model.CoverageUpdate{{Payer: "Aetna", Status: "covered"}}, Confidence: 0.8, Source: "cms", CreatedAt: ingestNow},
		{ID: "p2", Type: model.ProposalUpdate, TestID: "acme-ghost", Status: model.ProposalPending,
			Changes: []model.FieldChange{{Field: "fdaStatus", NewValue: "FDA approved"}}, Confidence: 0.7, Source: "vendor", CreatedAt: ingestNow},
	} {
		require.NoError(t, fs.Proposals().Create(ctx, p))
	}
}

func TestCLI_IngestTwiceIsIdempotent(t *testing.T) {
	dir := cliEnv(t)
	path := writeFile(t, dir, "discoveries.json", `[
		{"id":"d1","source":"vendor","title":"Natera expands Signatera"},
		{"id":"d2","source":"cms","title":"LCD L38779 revision","url":"https://cms.example/l38779"}
	]`)

	out, err := executeCLI(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 2 of 2 discoveries")

	out, err = executeCLI(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 0 of 2 discoveries")
}

func TestCLI_ReviewPatchApply(t *testing.T) {
	dir := cliEnv(t)
	seedCLIProposals(t, dir)

	out, err := executeCLI(t, "proposals", "list", "--status", "pending", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "p2")
	assert.Contains(t, out, "natera-signatera")

	out, err = executeCLI(t, "proposals", "approve", "p1", "--reviewer", "alice", "--notes", "matches LCD")
	require.NoError(t, err)
	assert.Contains(t, out, "p1 approved by alice")

	out, err = executeCLI(t, "proposals", "approve", "p2", "--reviewer", "alice", "--notes", "")
	require.NoError(t, err)
	assert.Contains(t, out, "p2 approved by alice")

	// Approved proposals cannot be rejected.
	_, err = executeCLI(t, "proposals", "reject", "p1", "--reviewer", "bob", "--notes", "")
	assert.Error(t, err)

	out, err = executeCLI(t, "proposals", "note", "p1", "checked against the payer site", "--reviewer", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "note added to p1")

	out, err = executeCLI(t, "patch", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "(2 proposals, 1 warnings)")

	entries, err := os.ReadDir(filepath.Join(dir, "patches"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "patch-"))

	applyCommit = ""
	_, err = executeCLI(t, "apply", "p1")
	require.Error(t, err, "--commit is required")

	out, err = executeCLI(t, "apply", "--commit", "abc123", "p1", "missing")
	require.Error(t, err)
	assert.Contains(t, out, "OK    p1")
	assert.Contains(t, out, "FAIL  missing")

	out, err = executeCLI(t, "apply", "--commit", "abc123", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "OK    p1 (already applied)")

	out, err = executeCLI(t, "proposals", "list", "--status", "applied", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"commitRef": "abc123"`)
}

func TestCLI_PatchNothingApproved(t *testing.T) {
	cliEnv(t)

	out, err := executeCLI(t, "patch", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "No approved proposals")
}
