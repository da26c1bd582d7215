// Package storage persists counting results to a relational database.
//
// Backends register a Factory under their kind ("sqlite", "postgres",
// "mssql") from an init function; callers pick one with New and never import
// the backend directly. Import charfreq/internal/storage/all to enable every
// built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"charfreq/internal/freq"
)

// DefaultTable is the destination table when Config.Table is empty.
const DefaultTable = "char_counts"

// Columns is the destination column order shared by every backend. Rows are
// keyed by (run_id, code_point); token is the display form.
var Columns = []string{"run_id", "source", "encoding", "workers", "fingerprint", "token", "code_point", "count", "created_at"}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// Run identifies one counting run. Every row saved for the run carries it.
type Run struct {
	ID          uuid.UUID
	Source      string
	Encoding    string
	Workers     int
	Fingerprint uint64
	At          time.Time
}

// NewRun returns a Run with a fresh random ID stamped at the current UTC time.
func NewRun(source, encoding string, workers int, fingerprint uint64) Run {
	return Run{
		ID:          uuid.New(),
		Source:      source,
		Encoding:    encoding,
		Workers:     workers,
		Fingerprint: fingerprint,
		At:          time.Now().UTC(),
	}
}

// Row is one token and its count.
type Row struct {
	Token rune
	Count int64
}

// Text is the token as stored in the text column. U+0000 is stored as the
// empty string because Postgres text cannot hold it; code_point keeps the
// value.
func (r Row) Text() string {
	if r.Token == 0 {
		return ""
	}
	return string(r.Token)
}

// RowsFrom converts a frequency table into rows in report order.
func RowsFrom(m freq.Map) []Row {
	entries := m.Entries()
	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = Row{Token: e.Token, Count: e.Count}
	}
	return rows
}

// Values returns the column values for row in Columns order. The fingerprint
// is stored as 16 hex digits since not every backend has an unsigned 64-bit
// type.
func (r Run) Values(row Row) []any {
	return []any{
		r.ID.String(),
		r.Source,
		r.Encoding,
		int64(r.Workers),
		fmt.Sprintf("%016x", r.Fingerprint),
		row.Text(),
		int64(row.Token),
		row.Count,
		r.At,
	}
}

// Repository is implemented by each backend.
type Repository interface {
	// EnsureTable creates the destination table when it does not exist.
	EnsureTable(ctx context.Context) error
	// SaveCounts inserts rows for run and returns how many were written.
	SaveCounts(ctx context.Context, run Run, rows []Row) (int64, error)
	Close()
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// again replaces the previous factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository of cfg.Kind. An empty Table becomes DefaultTable.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(cfg.Kind)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = DefaultTable
	}
	return f(ctx, cfg)
}

// Save is the usual sink sequence: ensure the table, then insert rows.
func Save(ctx context.Context, repo Repository, run Run, rows []Row) (int64, error) {
	if err := repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("storage: ensure table: %w", err)
	}
	n, err := repo.SaveCounts(ctx, run, rows)
	if err != nil {
		return n, fmt.Errorf("storage: save run %s: %w", run.ID, err)
	}
	return n, nil
}
