package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"ingest", "extract", "fingerprint", "triage", "proposals", "patch", "apply", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "coverage-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestProposalsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range proposalsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "approve", "reject", "note"} {
		assert.True(t, names[name], "proposals should have subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"triage", "limit", "0"},
		{"triage", "dry-run", "false"},
		{"serve", "port", "0"},
		{"apply", "commit", ""},
		{"patch", "json", "false"},
		{"fingerprint", "previous", ""},
	}
	for _, tt := range tests {
		c, _, err := rootCmd.Find([]string{tt.cmd})
		require.NoError(t, err, tt.cmd)
		f := c.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "%s should have --%s", tt.cmd, tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "%s --%s", tt.cmd, tt.flag)
	}

	require.NotNil(t, proposalsListCmd.Flags().Lookup("status"))
	require.NotNil(t, proposalsCmd.PersistentFlags().Lookup("reviewer"))
}
