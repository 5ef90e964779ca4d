// Package pipeline runs one normalization job: retrieve a flows table from
// the first source that yields one, normalize it, optionally aggregate it by
// month, and write it to the configured outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"marketflows/internal/exporter"
	"marketflows/internal/flows"
	"marketflows/internal/logging"
	"marketflows/internal/metrics"
	"marketflows/internal/retriever"
	"marketflows/internal/storage"
)

// ErrNoData is returned (wrapped) when a source answers with a table that
// has no data rows.
var ErrNoData = errors.New("no data rows")

// Output names the files written on success. Empty paths are skipped.
type Output struct {
	CSV  string
	XLSX string
	BOM  bool
}

// Runner holds the collaborators of one job. Sources are tried in order.
type Runner struct {
	Job       string
	Sources   []retriever.Retriever
	ColumnMap *flows.ColumnMap
	Monthly   bool
	Output    Output
	// Store is optional; nil disables archiving.
	Store  storage.Repository
	Logger *slog.Logger
}

// Result describes a completed run.
type Result struct {
	Source  string
	Records []flows.Record
	Report  flows.Report
	// Stored is the driver-reported row count; Unkeyed counts records
	// without a date that were not archived.
	Stored  int64
	Unkeyed int
}

// Run executes the job. Nothing is written unless a table was retrieved.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	log := r.Logger
	if log == nil {
		log = logging.Discard()
	}
	if r.Job != "" {
		ctx = logging.WithJob(ctx, r.Job)
	}

	var res Result

	table, source, err := r.retrieve(ctx, log)
	if err != nil {
		return res, err
	}
	res.Source = source

	start := time.Now()
	recs, rep := flows.NormalizeTable(table, r.ColumnMap)
	metrics.RecordStep("normalize", nil, time.Since(start))
	metrics.RecordRecords("retrieved", rep.Rows)
	r.report(ctx, log, source, rep)

	if r.Monthly {
		recs = flows.AggregateMonthly(recs)
		log.DebugContext(ctx, "aggregated by month", "records", len(recs))
	}
	res.Records, res.Report = recs, rep

	if err := r.write(ctx, log, recs); err != nil {
		return res, err
	}

	if r.Store != nil {
		stored, unkeyed, err := r.store(ctx, recs)
		res.Stored, res.Unkeyed = stored, unkeyed
		if err != nil {
			return res, err
		}
		if unkeyed > 0 {
			log.WarnContext(ctx, "records without a date were not archived", "count", unkeyed)
		}
		log.InfoContext(ctx, "archived", "rows", stored)
	}
	return res, nil
}

// retrieve tries each source once, in order, and returns the first table
// with data. When every source fails the errors are joined.
func (r *Runner) retrieve(ctx context.Context, log *slog.Logger) (flows.RawTable, string, error) {
	if len(r.Sources) == 0 {
		return flows.RawTable{}, "", fmt.Errorf("retrieve: no sources configured")
	}

	var errs []error
	for _, src := range r.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		t, err := src.Retrieve(ctx)
		if err == nil && len(t.Rows) == 0 {
			err = fmt.Errorf("%s: %w", src.Name(), ErrNoData)
		}
		metrics.RecordSource(src.Name(), err)
		metrics.RecordStep("retrieve", err, time.Since(start))

		if err != nil {
			log.WarnContext(ctx, "source failed", "source", src.Name(), "err", err)
			errs = append(errs, err)
			continue
		}
		log.InfoContext(ctx, "retrieved table", "source", src.Name(), "rows", len(t.Rows), "columns", len(t.Header),
			"elapsed", time.Since(start).Truncate(time.Millisecond))
		return t, src.Name(), nil
	}
	return flows.RawTable{}, "", fmt.Errorf("retrieve: all %d sources failed: %w", len(r.Sources), errors.Join(errs...))
}

// report logs what normalization defaulted and feeds the degraded counters.
func (r *Runner) report(ctx context.Context, log *slog.Logger, source string, rep flows.Report) {
	byField := rep.DegradedByField()
	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		metrics.RecordDegraded(name, byField[name])
	}

	attrs := []any{"source", source, "rows", rep.Rows}
	if len(rep.Missing) > 0 {
		missing := make([]string, len(rep.Missing))
		for i, f := range rep.Missing {
			missing[i] = f.String()
		}
		attrs = append(attrs, "missing", missing)
	}
	if len(rep.Unmapped) > 0 {
		attrs = append(attrs, "unmapped", rep.Unmapped)
	}

	if total := rep.DegradedTotal(); total > 0 {
		attrs = append(attrs, "degraded", total, "by_field", byField)
		log.WarnContext(ctx, "unparseable cells defaulted to zero", attrs...)
		return
	}
	log.InfoContext(ctx, "normalized", attrs...)
}

// write stages every configured output before replacing any of them, so a
// failed export leaves the previous files in place.
func (r *Runner) write(ctx context.Context, log *slog.Logger, recs []flows.Record) error {
	if r.Output.CSV == "" && r.Output.XLSX == "" {
		return nil
	}
	var batch exporter.Batch
	defer batch.Abort()

	if p := r.Output.CSV; p != "" {
		start := time.Now()
		err := batch.CSV(p, recs, exporter.Options{BOM: r.Output.BOM})
		metrics.RecordStep("write_csv", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("write csv %s: %w", p, err)
		}
	}
	if p := r.Output.XLSX; p != "" {
		start := time.Now()
		err := batch.XLSX(p, recs)
		metrics.RecordStep("write_xlsx", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("write xlsx %s: %w", p, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	if p := r.Output.CSV; p != "" {
		log.InfoContext(ctx, "wrote csv", "path", p, "records", len(recs))
	}
	if p := r.Output.XLSX; p != "" {
		log.InfoContext(ctx, "wrote xlsx", "path", p, "records", len(recs))
	}
	metrics.RecordRecords("written", len(recs))
	return nil
}

func (r *Runner) store(ctx context.Context, recs []flows.Record) (int64, int, error) {
	start := time.Now()
	rows, unkeyed := storage.FromRecords(recs)

	if err := r.Store.EnsureTable(ctx); err != nil {
		metrics.RecordStep("store", err, time.Since(start))
		return 0, unkeyed, fmt.Errorf("store: %w", err)
	}
	n, err := r.Store.Upsert(ctx, rows)
	metrics.RecordStep("store", err, time.Since(start))
	if err != nil {
		return 0, unkeyed, fmt.Errorf("store: %w", err)
	}
	metrics.RecordRecords("stored", len(rows))
	return n, unkeyed, nil
}

// Close releases the store, if any.
func (r *Runner) Close() {
	if r.Store != nil {
		r.Store.Close()
	}
}
