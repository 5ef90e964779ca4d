// Command extract-html reads HTML (from stdin, a URL, or a directory of saved
// pages), finds the tables on it, and prints them as JSON or as canonical
// FII/DII CSV. It is the tool for authoring a new source before adding it to
// a pipeline config.
//
// Usage (stdin, dump every table):
//
//	cat page.html | extract-html
//
// Usage (fetch URL, pick one table and normalize it):
//
//	extract-html -url "https://example.com/fii-dii" -normalize -min-rows 5
//
// Usage (directory mode):
//
//	extract-html -dir "./pages" -table-selector "table.data"
//
// Debug (print outer HTML blocks):
//
//	cat page.html | extract-html -selector "div.fii-dii"
//
// Debug (print text for selector matches):
//
//	cat page.html | extract-html -selector "table thead" -text
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"marketflows/internal/exporter"
	"marketflows/internal/extracthtml"
	"marketflows/internal/flows"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("extract-html", flag.ContinueOnError)
	fs.SetOutput(stderr)

	onlyText := fs.Bool("text", false, "Debug: print text blocks for -selector matches (not JSON)")
	debugSelector := fs.String("selector", "", "Debug: CSS selector to print matches for (not JSON)")
	urlFlag := fs.String("url", "", "Optional: fetch HTML from URL instead of stdin")
	userAgent := fs.String("user-agent", "", "User-Agent for -url (default browser-like)")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	dirFlag := fs.String("dir", "", "Optional: directory containing HTML files to scan for tables")
	tableSelector := fs.String("table-selector", "", "CSS selector for candidate tables (default \"table\")")
	index := fs.Int("index", -1, "Pick the n-th candidate table (0-based); -1 picks the first with -min-rows rows")
	minRows := fs.Int("min-rows", 1, "Minimum data rows when -index is not set")
	hasHeader := fs.Bool("has-header", false, "Treat the first row as the header even without <th> cells")
	normalize := fs.Bool("normalize", false, "Print the chosen table as canonical FII/DII CSV instead of JSON")
	columnsPath := fs.String("columns", "", "Optional column map JSON for -normalize (default built-in)")
	monthly := fs.Bool("monthly", false, "With -normalize: aggregate rows by calendar month")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}
	if *dirFlag != "" && *urlFlag != "" {
		fmt.Fprintf(stderr, "-dir and -url are mutually exclusive\n")
		return 2
	}
	if *monthly && !*normalize {
		fmt.Fprintf(stderr, "-monthly requires -normalize\n")
		return 2
	}

	opts := extracthtml.TableOptions{
		Selector:  *tableSelector,
		MinRows:   *minRows,
		HasHeader: *hasHeader,
	}
	if *index >= 0 {
		opts.Index = index
	}

	loader := extracthtml.NewLoader(httpClient, *timeout).WithUserAgent(*userAgent)
	load := func() (string, bool) {
		html, err := loader.Load(ctx, extracthtml.Input{
			URL:   *urlFlag,
			Stdin: stdin,
		})
		if err != nil {
			fmt.Fprintf(stderr, "load html: %v\n", err)
			return "", false
		}
		return html, true
	}

	// Debug selector mode prints raw matches and skips table parsing.
	if *debugSelector != "" {
		html, ok := load()
		if !ok {
			return 1
		}
		n, err := extracthtml.DebugPrintSelector(stdout, html, *debugSelector, *onlyText)
		if err != nil {
			fmt.Fprintf(stderr, "debug selector: %v\n", err)
			return 1
		}
		if n == 0 {
			fmt.Fprintf(stderr, "no matches for %q\n", *debugSelector)
		}
		return 0
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	// Directory mode: stream output as a single JSON array.
	if *dirFlag != "" {
		if *normalize {
			fmt.Fprintf(stderr, "-normalize is not supported with -dir\n")
			return 2
		}
		if err := extracthtml.StreamTablesFromDir(stdout, *dirFlag, opts, enc); err != nil {
			fmt.Fprintf(stderr, "dir extract: %v\n", err)
			return 1
		}
		return 0
	}

	if *normalize {
		cm := flows.DefaultColumnMap()
		if *columnsPath != "" {
			loaded, err := flows.LoadColumnMap(*columnsPath)
			if err != nil {
				fmt.Fprintf(stderr, "load columns: %v\n", err)
				return 2
			}
			cm = loaded
		}

		html, ok := load()
		if !ok {
			return 1
		}
		tbl, err := extracthtml.ExtractTable(html, opts)
		if err != nil {
			fmt.Fprintf(stderr, "extract table: %v\n", err)
			return 1
		}
		recs, rep := flows.NormalizeTable(tbl, cm)
		if *monthly {
			recs = flows.AggregateMonthly(recs)
		}
		if n := rep.DegradedTotal(); n > 0 {
			fmt.Fprintf(stderr, "warning: %d unparseable cells defaulted to zero %v\n", n, rep.DegradedByField())
		}
		if len(rep.Unmapped) > 0 {
			fmt.Fprintf(stderr, "unmapped columns: %v\n", rep.Unmapped)
		}
		if err := exporter.WriteCSV(stdout, recs, exporter.Options{}); err != nil {
			fmt.Fprintf(stderr, "write csv: %v\n", err)
			return 1
		}
		return 0
	}

	// Table dump mode: output []table for stdin OR -url.
	html, ok := load()
	if !ok {
		return 1
	}
	tables, err := extracthtml.ExtractTables(html, opts)
	if err != nil {
		fmt.Fprintf(stderr, "extract tables: %v\n", err)
		return 1
	}
	source := *urlFlag
	if source == "" {
		source = "stdin"
	}
	out := make([]extracthtml.TableJSON, 0, len(tables))
	for i, t := range tables {
		out = append(out, extracthtml.NewTableJSON(source, i, t))
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}
