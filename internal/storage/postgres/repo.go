// Package postgres implements a Postgres storage.Repository using pgx v5.
// Rows are loaded with COPY through the connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"charfreq/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // optionally schema-qualified, e.g. "public.char_counts"
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for
// cleanup. The pool connects lazily.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// EnsureTable creates the destination table and its source index.
func (r *Repository) EnsureTable(ctx context.Context) error {
	table := pgFQN(r.cfg.Table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	encoding    TEXT        NOT NULL,
	workers     INTEGER     NOT NULL,
	fingerprint TEXT        NOT NULL,
	token       TEXT        NOT NULL,
	code_point  INTEGER     NOT NULL,
	"count"     BIGINT      NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, code_point)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source)`,
			pgIdent(indexName(r.cfg.Table)), table),
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres: ensure table %s: %w", r.cfg.Table, err)
		}
	}
	return nil
}

// SaveCounts loads rows with COPY.
func (r *Repository) SaveCounts(ctx context.Context, run storage.Run, rows []storage.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(r.cfg.Table), storage.Columns, copySource(run, rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("postgres: copy into %s: %s (%s): %w", r.cfg.Table, pgErr.Detail, pgErr.SQLState(), err)
		}
		return 0, fmt.Errorf("postgres: copy into %s: %w", r.cfg.Table, err)
	}
	return n, nil
}

func copySource(run storage.Run, rows []storage.Row) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return run.Values(rows[i]), nil
	})
}

// indexName derives the source index name from the unqualified table name.
func indexName(table string) string {
	id := splitFQN(table)
	if len(id) == 0 {
		return "source_idx"
	}
	return id[len(id)-1] + "_source_idx"
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.char_counts".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}
