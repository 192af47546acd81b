package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coverage-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps :memory: databases and the single-writer
	// assumption consistent.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discoveries (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	discovered_at DATETIME,
	reviewed_at   DATETIME,
	body          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	discovery_id TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	body         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discoveries_status ON discoveries(status);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_discovery_id ON proposals(discovery_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Discoveries() DiscoveryStore { return sqliteDiscoveries{s.db} }
func (s *SQLiteStore) Proposals() ProposalStore    { return sqliteProposals{s.db} }

type sqliteDiscoveries struct{ db *sql.DB }

func (q sqliteDiscoveries) Save(ctx context.Context, ds []model.Discovery) error {
	ds, err := prepareDiscoveries(ds)
	if err != nil || len(ds) == 0 {
		return err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save discoveries")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, d := range ds {
		body, err := json.Marshal(d)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal discovery %s", d.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO discoveries (id, source, status, discovered_at, reviewed_at, body)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			d.ID, d.Source, string(d.Status), d.DiscoveredAt.UTC(), d.ReviewedAt, string(body),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert discovery %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save discoveries")
}

func (q sqliteDiscoveries) Load(ctx context.Context, status model.DiscoveryStatus) ([]model.Discovery, error) {
	query := `SELECT body FROM discoveries`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load discoveries")
	}
	defer rows.Close()

	var out []model.Discovery
	for rows.Next() {
		var d model.Discovery
		if err := scanBody(rows, &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan discovery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load discoveries iterate")
}

func (q sqliteDiscoveries) Get(ctx context.Context, id string) (*model.Discovery, error) {
	var d model.Discovery
	err := scanBody(q.db.QueryRowContext(ctx, `SELECT body FROM discoveries WHERE id = ?`, id), &d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "discovery %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get discovery %s", id)
	}
	return &d, nil
}

func (q sqliteDiscoveries) MarkReviewed(ctx context.Context, id string, at time.Time) error {
	d, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == model.DiscoveryReviewed {
		return nil
	}
	at = at.UTC()
	d.Status = model.DiscoveryReviewed
	d.ReviewedAt = &at

	body, err := json.Marshal(d)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal discovery %s", id)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE discoveries SET status = ?, reviewed_at = ?, body = ? WHERE id = ? AND status = ?`,
		string(model.DiscoveryReviewed), at, string(body), id, string(model.DiscoveryPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark reviewed %s", id)
	}
	// A concurrent reviewer winning the race leaves the discovery reviewed.
	_, err = res.RowsAffected()
	return eris.Wrap(err, "sqlite: rows affected")
}

type sqliteProposals struct{ db *sql.DB }

func (q sqliteProposals) ListByStatus(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	query := `SELECT body FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		var p model.Proposal
		if err := scanBody(rows, &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan proposal")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

func (q sqliteProposals) Create(ctx context.Context, p model.Proposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal proposal %s", p.ID)
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO proposals (id, type, status, discovery_id, created_at, updated_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		p.ID, string(p.Type), string(p.Status), p.DiscoveryID, p.CreatedAt.UTC(), p.UpdatedAt.UTC(), string(body),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert proposal %s", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrExists, "proposal %s", p.ID)
	}
	return nil
}

func (q sqliteProposals) Get(ctx context.Context, id string) (*model.Proposal, error) {
	return q.get(ctx, q.db, id)
}

func (q sqliteProposals) get(ctx context.Context, r rowQuerier, id string) (*model.Proposal, error) {
	var p model.Proposal
	err := scanBody(r.QueryRowContext(ctx, `SELECT body FROM proposals WHERE id = ?`, id), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "proposal %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get proposal %s", id)
	}
	return &p, nil
}

// mutate applies fn inside a transaction and writes the result back with a
// compare-and-set on the status read at the start.
func (q sqliteProposals) mutate(ctx context.Context, id string, fn func(p *model.Proposal) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin update proposal %s", id)
	}
	defer tx.Rollback() //nolint:errcheck

	p, err := q.get(ctx, tx, id)
	if err != nil {
		return err
	}
	prev := p.Status
	if err := fn(p); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal proposal %s", id)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, updated_at = ?, body = ? WHERE id = ? AND status = ?`,
		string(p.Status), p.UpdatedAt.UTC(), string(body), id, string(prev),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStatusConflict, "proposal %s changed concurrently", id)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit proposal %s", id)
}

func (q sqliteProposals) UpdateStatus(ctx context.Context, id string, from, to model.ProposalStatus, review model.Review) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		return applyStatus(p, from, to, review)
	})
}

func (q sqliteProposals) MarkApplied(ctx context.Context, id, commitRef string, at time.Time) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		return applyApplied(p, commitRef, at)
	})
}

func (q sqliteProposals) AppendAudit(ctx context.Context, id string, entry model.AuditEntry) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		applyAudit(p, entry)
		return nil
	})
}

// helpers

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scannable interface {
	Scan(dest ...any) error
}

// scanBody scans a single JSON body column into v.
func scanBody(row scannable, v any) error {
	var body string
	if err := row.Scan(&body); err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), v)
}
