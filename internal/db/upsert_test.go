package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discoveriesCfg = UpsertConfig{
	Table:        "discoveries",
	Columns:      []string{"id", "body"},
	ConflictKeys: []string{"id"},
}

func TestUpsert_EmptyRows(t *testing.T) {
	n, err := Upsert(context.Background(), nil, discoveriesCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsertSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		n    int
		want string
	}{
		{
			name: "do nothing",
			cfg:  discoveriesCfg,
			n:    2,
			want: `INSERT INTO "discoveries" ("id", "body") VALUES ($1, $2), ($3, $4) ON CONFLICT ("id") DO NOTHING`,
		},
		{
			name: "do update",
			cfg: UpsertConfig{
				Table:        "public.proposals",
				Columns:      []string{"id", "status"},
				ConflictKeys: []string{"id"},
				UpdateCols:   []string{"status"},
			},
			n:    1,
			want: `INSERT INTO "public"."proposals" ("id", "status") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "status" = EXCLUDED."status"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UpsertSQL(tt.cfg, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpsert_Exec(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "discoveries"`).
		WithArgs("d1", "{}", "d2", "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := Upsert(context.Background(), mock, discoveriesCfg, [][]any{{"d1", "{}"}, {"d2", "{}"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RowWidthMismatch(t *testing.T) {
	_, err := Upsert(context.Background(), nil, discoveriesCfg, [][]any{{"d1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 1 values, want 2")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.proposals", `"public"."proposals"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
