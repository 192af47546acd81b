package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-intel/internal/proposal"
	"github.com/sells-group/coverage-intel/internal/registry"
	"github.com/sells-group/coverage-intel/internal/store"
)

const sqliteFile = "coverage.db"

// initStore opens and migrates the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "file":
		st = store.NewFile(cfg.Store.Path)
	case "sqlite":
		dsn := cfg.Store.Path
		if !strings.HasSuffix(dsn, ".db") {
			dsn = filepath.Join(dsn, sqliteFile)
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, eris.Wrap(err, "create sqlite dir")
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initRegistry() (*registry.Registry, error) {
	return registry.Open(cfg.Registry.Path)
}

// initDataset prefers a configured dataset export and falls back to the
// registry's known tests.
func initDataset(reg *registry.Registry) (proposal.Dataset, error) {
	if cfg.Patch.DatasetPath == "" {
		return reg, nil
	}
	return proposal.LoadDataset(cfg.Patch.DatasetPath)
}

func newProposalService(st store.Store) (*proposal.Service, error) {
	reg, err := initRegistry()
	if err != nil {
		return nil, err
	}
	ds, err := initDataset(reg)
	if err != nil {
		return nil, err
	}
	return proposal.NewService(st.Proposals(), ds, cfg.Patch.OutputDir), nil
}

// openInput opens path for reading; "-" is stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}

// readRecords decodes a JSON array, or a single object, of T.
func readRecords[T any](r io.Reader) ([]T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "read input")
	}
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, eris.Wrap(err, "decode input")
	}
	return []T{one}, nil
}

func readRecordsFile[T any](cmd *cobra.Command, path string) ([]T, error) {
	rc, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readRecords[T](rc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
