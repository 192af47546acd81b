package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-intel/internal/db"
	"github.com/sells-group/coverage-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discoveries (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	discovered_at TIMESTAMPTZ,
	reviewed_at   TIMESTAMPTZ,
	body          JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	discovery_id TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	body         JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discoveries_status ON discoveries(status);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_discovery_id ON proposals(discovery_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Discoveries() DiscoveryStore { return pgDiscoveries{s.pool} }
func (s *PostgresStore) Proposals() ProposalStore    { return pgProposals{s.pool} }

var discoveryUpsert = db.UpsertConfig{
	Table:        "discoveries",
	Columns:      []string{"id", "source", "status", "discovered_at", "reviewed_at", "body"},
	ConflictKeys: []string{"id"},
}

type pgDiscoveries struct{ pool db.Pool }

func (q pgDiscoveries) Save(ctx context.Context, ds []model.Discovery) error {
	ds, err := prepareDiscoveries(ds)
	if err != nil || len(ds) == 0 {
		return err
	}

	rows := make([][]any, 0, len(ds))
	for _, d := range ds {
		body, err := json.Marshal(d)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal discovery %s", d.ID)
		}
		rows = append(rows, []any{d.ID, d.Source, string(d.Status), d.DiscoveredAt.UTC(), d.ReviewedAt, body})
	}
	_, err = db.Upsert(ctx, q.pool, discoveryUpsert, rows)
	return eris.Wrap(err, "postgres: save discoveries")
}

func (q pgDiscoveries) Load(ctx context.Context, status model.DiscoveryStatus) ([]model.Discovery, error) {
	query := `SELECT body FROM discoveries`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load discoveries")
	}
	defer rows.Close()

	var out []model.Discovery
	for rows.Next() {
		var d model.Discovery
		if err := scanJSON(rows, &d); err != nil {
			return nil, eris.Wrap(err, "postgres: scan discovery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load discoveries iterate")
}

func (q pgDiscoveries) Get(ctx context.Context, id string) (*model.Discovery, error) {
	var d model.Discovery
	err := scanJSON(q.pool.QueryRow(ctx, `SELECT body FROM discoveries WHERE id = $1`, id), &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "discovery %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get discovery %s", id)
	}
	return &d, nil
}

func (q pgDiscoveries) MarkReviewed(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	tag, err := q.pool.Exec(ctx,
		`UPDATE discoveries
		 SET status = $1, reviewed_at = $2,
		     body = body || jsonb_build_object('status', $1::text, 'reviewedAt', $2::timestamptz)
		 WHERE id = $3 AND status <> $1`,
		string(model.DiscoveryReviewed), at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark reviewed %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Nothing updated: either unknown or already reviewed.
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

type pgProposals struct{ pool db.Pool }

func (q pgProposals) ListByStatus(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	query := `SELECT body FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		var p model.Proposal
		if err := scanJSON(rows, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan proposal")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

func (q pgProposals) Create(ctx context.Context, p model.Proposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal proposal %s", p.ID)
	}
	tag, err := q.pool.Exec(ctx,
		`INSERT INTO proposals (id, type, status, discovery_id, created_at, updated_at, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		p.ID, string(p.Type), string(p.Status), p.DiscoveryID, p.CreatedAt.UTC(), p.UpdatedAt.UTC(), body,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert proposal %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrExists, "proposal %s", p.ID)
	}
	return nil
}

func (q pgProposals) Get(ctx context.Context, id string) (*model.Proposal, error) {
	return getProposal(ctx, q.pool, id, false)
}

type pgRowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getProposal(ctx context.Context, r pgRowQuerier, id string, forUpdate bool) (*model.Proposal, error) {
	query := `SELECT body FROM proposals WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p model.Proposal
	err := scanJSON(r.QueryRow(ctx, query, id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "proposal %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get proposal %s", id)
	}
	return &p, nil
}

// mutate locks the row, applies fn and writes it back guarded by the status
// read under the lock.
func (q pgProposals) mutate(ctx context.Context, id string, fn func(p *model.Proposal) error) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin update proposal %s", id)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p, err := getProposal(ctx, tx, id, true)
	if err != nil {
		return err
	}
	prev := p.Status
	if err := fn(p); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal proposal %s", id)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE proposals SET status = $1, updated_at = $2, body = $3 WHERE id = $4 AND status = $5`,
		string(p.Status), p.UpdatedAt.UTC(), body, id, string(prev),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStatusConflict, "proposal %s changed concurrently", id)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit proposal %s", id)
}

func (q pgProposals) UpdateStatus(ctx context.Context, id string, from, to model.ProposalStatus, review model.Review) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		return applyStatus(p, from, to, review)
	})
}

func (q pgProposals) MarkApplied(ctx context.Context, id, commitRef string, at time.Time) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		return applyApplied(p, commitRef, at)
	})
}

func (q pgProposals) AppendAudit(ctx context.Context, id string, entry model.AuditEntry) error {
	return q.mutate(ctx, id, func(p *model.Proposal) error {
		applyAudit(p, entry)
		return nil
	})
}

func scanJSON(row scannable, v any) error {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
