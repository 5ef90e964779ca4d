package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "job": "fii_dii_monthly",
  "column_map": "configs/columns.json",
  "aggregate": "monthly",
  "sources": [
    {"name": "trendlyne", "kind": "browser", "url": "https://trendlyne.com/macro-data/fii-dii/latest/cash-pastmonth/",
     "click": "//a[contains(text(),'Monthly')]", "wait_for": "table", "min_rows": 5, "timeout": "45s"},
    {"name": "nse", "kind": "http", "url": "https://www.nseindia.com/reports/fii-dii", "table_index": 0},
    {"name": "manual", "kind": "file", "path": "downloads/fii_dii.csv"}
  ],
  "output": {"csv": "out/fii_dii_data.csv", "bom": true},
  "storage": {"kind": "sqlite", "dsn": "file:${DATA_DIR}/flows.db"},
  "runtime": {"timeout": "5m", "source_timeout": "20s"}
}`

func TestDecodeAndTimeouts(t *testing.T) {
	t.Parallel()

	p, err := Decode([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Sources) != 3 || p.Sources[1].TableIndex == nil || *p.Sources[1].TableIndex != 0 {
		t.Fatalf("unexpected sources: %+v", p.Sources)
	}
	if got := p.SourceTimeout(p.Sources[0]); got != 45*time.Second {
		t.Fatalf("source 0 timeout = %v", got)
	}
	if got := p.SourceTimeout(p.Sources[1]); got != 20*time.Second {
		t.Fatalf("source 1 timeout = %v", got)
	}
	if got := p.RunTimeout(); got != 5*time.Minute {
		t.Fatalf("run timeout = %v", got)
	}
	if got := (Pipeline{}).SourceTimeout(Source{}); got != DefaultSourceTimeout {
		t.Fatalf("default timeout = %v", got)
	}
	if issues := ValidatePipeline(p); HasErrors(issues) {
		t.Fatalf("sample should be valid: %v", issues)
	}
	if p.Sources[2].DisplayName() != "manual" || (Source{Path: "x.csv"}).DisplayName() != "x.csv" {
		t.Fatalf("unexpected display names")
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"job":"x","sourcez":[]}`))
	if err == nil || !strings.Contains(err.Error(), "decode config") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Job != "fii_dii_monthly" {
		t.Fatalf("job = %q", p.Job)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

// TestValidatePipeline verifies each rule reports at the expected path.
func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	neg := -1
	p := Pipeline{
		Aggregate: "weekly",
		Sources: []Source{
			{Kind: "http"},
			{Kind: "browser", URL: "ftp://example.com/x"},
			{Kind: "file"},
			{Kind: "ftp"},
			{},
			{Kind: "http", URL: "https://example.com", TableIndex: &neg, MinRows: -2, Timeout: "soon", Click: "//a"},
		},
		Storage: &Storage{Kind: "oracle", BatchSize: -1},
		Runtime: Runtime{Timeout: "-1s"},
	}
	issues := ValidatePipeline(p)

	wantErrors := []string{
		"sources[0].url",
		"sources[1].url",
		"sources[2].path",
		"sources[3].kind",
		"sources[4].kind",
		"sources[5].table_index",
		"sources[5].min_rows",
		"sources[5].timeout",
		"aggregate",
		"storage.kind",
		"storage.batch_size",
		"runtime.timeout",
	}
	wantWarnings := []string{"job", "sources[5]", "storage.dsn"}

	got := map[string]Severity{}
	for _, iss := range issues {
		got[iss.Path] = iss.Severity
	}
	for _, path := range wantErrors {
		if got[path] != SeverityError {
			t.Fatalf("expected error at %s; issues: %v", path, issues)
		}
	}
	for _, path := range wantWarnings {
		if got[path] != SeverityWarning {
			t.Fatalf("expected warning at %s; issues: %v", path, issues)
		}
	}
	if !HasErrors(issues) {
		t.Fatalf("HasErrors should be true")
	}
}

func TestValidatePipeline_NoSourcesOrOutputs(t *testing.T) {
	t.Parallel()

	issues := ValidatePipeline(Pipeline{Job: "j"})
	var paths []string
	for _, iss := range issues {
		paths = append(paths, iss.String())
	}
	joined := strings.Join(paths, "\n")
	for _, want := range []string{"error: sources:", "error: output:"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in:\n%s", want, joined)
		}
	}

	same := Pipeline{Job: "j", Sources: []Source{{Kind: "file", Path: "a.csv"}}, Output: Output{CSV: "o", XLSX: "o"}}
	if !HasErrors(ValidatePipeline(same)) {
		t.Fatalf("expected error for identical csv/xlsx paths")
	}
}

// TestLoadEnvAndApply exercises envconfig defaults and the DSN override.
func TestLoadEnvAndApply(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "datadog")
	t.Setenv("METRICS_TAGS", "team:markets")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STORAGE_DSN", "")
	t.Setenv("DATA_DIR", "/var/lib/flows")

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if e.MetricsBackend != "datadog" || e.MetricsTags != "team:markets" {
		t.Fatalf("unexpected env: %+v", e)
	}
	if e.LogFormat != "text" {
		t.Fatalf("LogFormat default = %q", e.LogFormat)
	}

	p, err := Decode([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ApplyEnv(&p, e)
	if p.Storage.DSN != "file:/var/lib/flows/flows.db" {
		t.Fatalf("expanded dsn = %q", p.Storage.DSN)
	}

	ApplyEnv(&p, Env{StorageDSN: "postgres://u@h/db"})
	if p.Storage.DSN != "postgres://u@h/db" {
		t.Fatalf("override dsn = %q", p.Storage.DSN)
	}

	noStorage := Pipeline{}
	ApplyEnv(&noStorage, e)
	if noStorage.Storage != nil {
		t.Fatalf("storage should stay nil")
	}
}

// TestSampleConfig keeps the shipped example config loadable and valid.
func TestSampleConfig(t *testing.T) {
	t.Parallel()

	p, err := Load(filepath.Join("..", "..", "configs", "fii_dii.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	if len(p.Sources) != 3 || p.Sources[0].Kind != KindBrowser || p.Aggregate != "monthly" {
		t.Fatalf("unexpected pipeline: %+v", p)
	}
	if got := p.SourceTimeout(p.Sources[0]); got != 60*time.Second {
		t.Fatalf("browser timeout = %v", got)
	}
}
