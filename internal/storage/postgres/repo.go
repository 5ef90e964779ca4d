package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflows/internal/metrics"
	"marketflows/internal/storage"
)

// maxBatch keeps statements under the 65535 bind-parameter limit with room
// to spare.
const maxBatch = 1000

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres on a pgx pool.
type Repo struct {
	pool  *pgxpool.Pool
	table string
	batch int
}

// New opens a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, table: cfg.TableName(), batch: storage.BatchSize(cfg.BatchSize, maxBatch)}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the schema (for qualified names) and the table.
func (r *Repo) EnsureTable(ctx context.Context) error {
	schemaSQL, tableSQL := buildCreateSQL(r.table)
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", r.table, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

// Upsert writes rows with INSERT ... ON CONFLICT DO UPDATE in one
// transaction. Duplicate keys are collapsed first since Postgres rejects a
// statement that touches the same row twice.
func (r *Repo) Upsert(ctx context.Context, rows []storage.FlowRow) (int64, error) {
	rows = storage.DedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, chunk := range storage.Chunks(rows, r.batch) {
		q, args := buildUpsertSQL(r.table, chunk)
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", r.table, err)
		}
		total += tag.RowsAffected()
		metrics.RecordBatch()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// splitQualifiedName splits "schema.table". Anything other than a single dot
// is treated as an unqualified name.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func tableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func colIdent(c string) string { return pgx.Identifier{c}.Sanitize() }

func buildCreateSQL(name string) (schemaSQL, tableSQL string) {
	if schema, _ := splitQualifiedName(name); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schema}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(tableIdent(name))
	b.WriteString(" (\n  id BIGSERIAL PRIMARY KEY")
	for i, c := range storage.Columns {
		var typ string
		switch {
		case i == 0:
			typ = "DATE NOT NULL"
		case i < 4:
			typ = "TEXT NOT NULL"
		default:
			typ = "NUMERIC(18,2) NOT NULL DEFAULT 0"
		}
		fmt.Fprintf(&b, ",\n  %s %s", colIdent(c), typ)
	}
	b.WriteString(",\n  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	fmt.Fprintf(&b, ",\n  UNIQUE (%s)\n)", joinIdents(storage.KeyColumns))
	return schemaSQL, b.String()
}

// buildUpsertSQL constructs one multi-row upsert with numbered placeholders.
// Amounts are sent as float64, which the NUMERIC codec encodes without
// rounding at crore precision.
func buildUpsertSQL(table string, rows []storage.FlowRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(storage.Columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.Columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, a := range row.Args() {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
			if j >= 4 {
				a = row.Amounts[j-4].InexactFloat64()
			}
			args = append(args, a)
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdents(storage.KeyColumns))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range storage.Columns[len(storage.KeyColumns):] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", colIdent(c), colIdent(c))
	}
	b.WriteString(", updated_at = now()")
	return b.String(), args
}

func joinIdents(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = colIdent(c)
	}
	return strings.Join(parts, ", ")
}
