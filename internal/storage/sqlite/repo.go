package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"marketflows/internal/flows"
	"marketflows/internal/metrics"
	"marketflows/internal/storage"
)

// maxBatch keeps statements well under SQLite's bound-parameter limit.
const maxBatch = 500

// Repo implements storage.Repository for SQLite.
//
// SQLite has no DATE type; dates are stored as YYYY-MM-DD text, which sorts
// and compares correctly. Amounts use NUMERIC affinity.
type Repo struct {
	db    *sql.DB
	table string
	batch int
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a file path or "file:" URI).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, table: cfg.TableName(), batch: storage.BatchSize(cfg.BatchSize, maxBatch)}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

// Upsert writes rows with INSERT ... ON CONFLICT DO UPDATE inside a single
// transaction.
func (r *Repo) Upsert(ctx context.Context, rows []storage.FlowRow) (int64, error) {
	rows = storage.DedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range storage.Chunks(rows, r.batch) {
		q, args := buildUpsertSQL(r.table, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", r.table, err)
		}
		n, _ := res.RowsAffected()
		total += n
		metrics.RecordBatch()
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (\n  id INTEGER PRIMARY KEY AUTOINCREMENT")
	for i, c := range storage.Columns {
		typ := "NUMERIC NOT NULL DEFAULT 0"
		if i < 4 {
			typ = "TEXT NOT NULL"
		}
		fmt.Fprintf(&b, ",\n  %s %s", sqlIdent(c), typ)
	}
	b.WriteString(",\n  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")
	fmt.Fprintf(&b, ",\n  UNIQUE (%s)\n)", joinIdents(storage.KeyColumns))
	return b.String()
}

// buildUpsertSQL builds one multi-row upsert. It is pure so the statement
// shape can be tested without a database.
func buildUpsertSQL(table string, rows []storage.FlowRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(storage.Columns))
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimRight(strings.Repeat("?, ", len(storage.Columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(storage.Columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		rowArgs := row.Args()
		rowArgs[0] = formatDate(row.Date)
		args = append(args, rowArgs...)
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdents(storage.KeyColumns))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range storage.Columns[len(storage.KeyColumns):] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	b.WriteString(", updated_at = CURRENT_TIMESTAMP")
	return b.String(), args
}

func joinIdents(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = sqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

func formatDate(t time.Time) string {
	return t.UTC().Format(flows.DateLayout)
}
