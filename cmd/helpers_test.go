package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/config"
	"github.com/sells-group/coverage-intel/internal/store"
)

// useTestConfig points the package config at a file store under a temp dir
// for tests that call command helpers directly.
func useTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig := cfg
	cfg = &config.Config{}
	cfg.Store.Driver = "file"
	cfg.Store.Path = filepath.Join(dir, "data")
	cfg.Patch.OutputDir = filepath.Join(dir, "patches")
	cfg.Server.Port = 8080
	t.Cleanup(func() { cfg = orig })
	return dir
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := initStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// cliEnv runs the CLI from an empty temp dir with the store and patch
// output configured through the environment.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	orig := cfg
	t.Cleanup(func() { cfg = orig })

	t.Setenv("COVERAGE_STORE_DRIVER", "file")
	t.Setenv("COVERAGE_STORE_PATH", filepath.Join(dir, "data"))
	t.Setenv("COVERAGE_PATCH_OUTPUT_DIR", filepath.Join(dir, "patches"))
	t.Setenv("COVERAGE_LOG_LEVEL", "error")
	return dir
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
