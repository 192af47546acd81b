package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-intel/internal/model"
)

const (
	discoveriesFile = "discoveries.json"
	proposalsFile   = "proposals.json"
)

// FileStore keeps each record set in a JSON document under one directory.
// Every mutation rewrites the whole document through WriteFileAtomic.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFile returns a FileStore rooted at dir.
func NewFile(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Discoveries() DiscoveryStore { return fileDiscoveries{s} }
func (s *FileStore) Proposals() ProposalStore    { return fileProposals{s} }

// Migrate creates the store directory.
func (s *FileStore) Migrate(_ context.Context) error {
	return eris.Wrap(os.MkdirAll(s.dir, 0o755), "file: migrate")
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes the named document into v. A missing file leaves v as is.
func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "file: read %s", name)
	}
	if len(data) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(data, v), "file: decode %s", name)
}

func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "file: encode %s", name)
	}
	return WriteFileAtomic(s.path(name), data, 0o644)
}

// WriteFileAtomic writes data to a temp file next to path, fsyncs it and
// renames it over path. Readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "file: mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "file: create temp for %s", path)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "file: write %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "file: sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "file: close %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return eris.Wrapf(err, "file: chmod %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrapf(err, "file: rename %s to %s", tmpPath, path)
	}
	return nil
}

type fileDiscoveries struct{ s *FileStore }

func (f fileDiscoveries) load() ([]model.Discovery, error) {
	var ds []model.Discovery
	return ds, f.s.readJSON(discoveriesFile, &ds)
}

func (f fileDiscoveries) Save(_ context.Context, ds []model.Discovery) error {
	ds, err := prepareDiscoveries(ds)
	if err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	existing, err := f.load()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d.ID] = true
	}
	for _, d := range ds {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		existing = append(existing, d)
	}
	return f.s.writeJSON(discoveriesFile, existing)
}

func (f fileDiscoveries) Load(_ context.Context, status model.DiscoveryStatus) ([]model.Discovery, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil || status == "" {
		return all, err
	}
	var out []model.Discovery
	for _, d := range all {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f fileDiscoveries) Get(_ context.Context, id string) (*model.Discovery, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "discovery %s", id)
}

func (f fileDiscoveries) MarkReviewed(_ context.Context, id string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		if all[i].Status == model.DiscoveryReviewed {
			return nil
		}
		at = at.UTC()
		all[i].Status = model.DiscoveryReviewed
		all[i].ReviewedAt = &at
		return f.s.writeJSON(discoveriesFile, all)
	}
	return eris.Wrapf(ErrNotFound, "discovery %s", id)
}

type fileProposals struct{ s *FileStore }

func (f fileProposals) load() ([]model.Proposal, error) {
	var ps []model.Proposal
	return ps, f.s.readJSON(proposalsFile, &ps)
}

func (f fileProposals) ListByStatus(_ context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil || status == "" {
		return all, err
	}
	var out []model.Proposal
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fileProposals) Create(_ context.Context, p model.Proposal) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	for _, existing := range all {
		if existing.ID == p.ID {
			return eris.Wrapf(ErrExists, "proposal %s", p.ID)
		}
	}
	return f.s.writeJSON(proposalsFile, append(all, p))
}

func (f fileProposals) Get(_ context.Context, id string) (*model.Proposal, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, eris.Wrapf(ErrNotFound, "proposal %s", id)
}

// mutate loads all proposals, applies fn to the one with id and writes the
// document back only when fn succeeds.
func (f fileProposals) mutate(id string, fn func(p *model.Proposal) error) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		if err := fn(&all[i]); err != nil {
			return err
		}
		return f.s.writeJSON(proposalsFile, all)
	}
	return eris.Wrapf(ErrNotFound, "proposal %s", id)
}

func (f fileProposals) UpdateStatus(_ context.Context, id string, from, to model.ProposalStatus, review model.Review) error {
	return f.mutate(id, func(p *model.Proposal) error {
		return applyStatus(p, from, to, review)
	})
}

func (f fileProposals) MarkApplied(_ context.Context, id, commitRef string, at time.Time) error {
	return f.mutate(id, func(p *model.Proposal) error {
		return applyApplied(p, commitRef, at)
	})
}

func (f fileProposals) AppendAudit(_ context.Context, id string, entry model.AuditEntry) error {
	return f.mutate(id, func(p *model.Proposal) error {
		applyAudit(p, entry)
		return nil
	})
}
