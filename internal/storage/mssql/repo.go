package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"marketflows/internal/flows"
	"marketflows/internal/metrics"
	"marketflows/internal/storage"
)

// maxBatch keeps MERGE statements under SQL Server's 2100 parameter limit.
const maxBatch = 100

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Upserts use MERGE ... WITH (HOLDLOCK) so concurrent loads for the same key
// serialize instead of racing on the unique constraint.
type Repo struct {
	db    dbConn
	table string
	batch int
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}, table: cfg.TableName(), batch: storage.BatchSize(cfg.BatchSize, maxBatch)}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the table when missing. It is safe to run on every load.
func (r *Repo) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.table)); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

// Upsert merges rows chunk by chunk inside one transaction.
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
		q, args := buildMergeSQL(r.table, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("merge %s: %w", r.table, err)
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

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard since SQL Server
// lacks CREATE TABLE IF NOT EXISTS.
func buildCreateSQL(table string) string {
	defs := []string{"[id] BIGINT IDENTITY(1,1) PRIMARY KEY"}
	for i, c := range storage.Columns {
		var typ string
		switch {
		case i == 0:
			typ = "DATE NOT NULL"
		case i < 4:
			typ = "NVARCHAR(32) NOT NULL"
		default:
			typ = "DECIMAL(18,2) NOT NULL DEFAULT 0"
		}
		defs = append(defs, mssqlIdent(c)+" "+typ)
	}
	defs = append(defs,
		"[updated_at] DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()",
		fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", mssqlIdent("uq_"+lastPart(table)+"_date_fy"), joinIdents(storage.KeyColumns)),
	)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlTableIdent(table),
		strings.Join(defs, ", "),
	)
}

// buildMergeSQL materializes the chunk as a VALUES source and merges it on
// the unique key. Dates and amounts are sent as text and converted by the
// server, which keeps the arguments exact.
func buildMergeSQL(table string, rows []storage.FlowRow) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS T USING (VALUES ")

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
			switch {
			case j == 0:
				fmt.Fprintf(&b, "CAST(@p%d AS DATE)", p)
				a = row.Date.Format(flows.DateLayout)
			case j >= 4:
				fmt.Fprintf(&b, "CAST(@p%d AS DECIMAL(18,2))", p)
				a = row.Amounts[j-4].String()
			default:
				fmt.Fprintf(&b, "@p%d", p)
			}
			args = append(args, a)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS S (")
	b.WriteString(joinIdents(storage.Columns))
	b.WriteString(") ON ")
	for i, k := range storage.KeyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "T.%s = S.%s", mssqlIdent(k), mssqlIdent(k))
	}

	b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
	for i, c := range storage.Columns[len(storage.KeyColumns):] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "T.%s = S.%s", mssqlIdent(c), mssqlIdent(c))
	}
	b.WriteString(", T.[updated_at] = SYSUTCDATETIME()")

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(joinIdents(storage.Columns))
	b.WriteString(") VALUES (")
	for i, c := range storage.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("S." + mssqlIdent(c))
	}
	b.WriteString(");")
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
//
//	"dbo.fii_dii_monthly_data" -> [dbo].[fii_dii_monthly_data]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func lastPart(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func joinIdents(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = mssqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

// ---- database/sql seam types ----

// dbConn is the subset of *sql.DB this package uses; tests substitute it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
