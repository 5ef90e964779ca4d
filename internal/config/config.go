// Package config defines the pipeline configuration file, its validation, and
// the environment overrides shared by the commands.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Pipeline is one normalization job: where to fetch the flows table, how to
// map it, and where to write the canonical records.
type Pipeline struct {
	Job string `json:"job"`

	// ColumnMap is a column map JSON path. Empty uses the built-in map.
	ColumnMap string `json:"column_map,omitempty"`

	// Sources are tried in order; the first that yields a table wins.
	Sources []Source `json:"sources"`

	// Aggregate is "" / "none" or "monthly".
	Aggregate string `json:"aggregate,omitempty"`

	Output  Output   `json:"output"`
	Storage *Storage `json:"storage,omitempty"`
	Runtime Runtime  `json:"runtime"`
}

// Source kinds.
const (
	KindHTTP    = "http"
	KindBrowser = "browser"
	KindFile    = "file"
)

// Source describes one place a flows table can be retrieved from.
type Source struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	URL     string            `json:"url,omitempty"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Browser only: an XPath to click before reading (e.g. a "Monthly" tab)
	// and a CSS selector to wait for.
	Click   string `json:"click,omitempty"`
	WaitFor string `json:"wait_for,omitempty"`

	TableSelector string `json:"table_selector,omitempty"`
	TableIndex    *int   `json:"table_index,omitempty"`
	MinRows       int    `json:"min_rows,omitempty"`
	HasHeader     bool   `json:"has_header,omitempty"`

	// Sheet selects the worksheet for .xlsx files.
	Sheet string `json:"sheet,omitempty"`

	Timeout string `json:"timeout,omitempty"`
}

// DisplayName is Name, or the URL or path when Name is empty.
func (s Source) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.URL != "":
		return s.URL
	default:
		return s.Path
	}
}

// Output controls the files written on success.
type Output struct {
	CSV  string `json:"csv,omitempty"`
	XLSX string `json:"xlsx,omitempty"`
	BOM  bool   `json:"bom,omitempty"`
}

// Storage configures the optional database archive.
type Storage struct {
	// Kind is "sqlite", "postgres" or "mssql".
	Kind      string `json:"kind"`
	DSN       string `json:"dsn"`
	Table     string `json:"table,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Runtime holds execution limits.
type Runtime struct {
	// Timeout bounds the whole run, e.g. "5m". Empty means no limit.
	Timeout string `json:"timeout,omitempty"`
	// SourceTimeout is the default per-source timeout, e.g. "30s".
	SourceTimeout string `json:"source_timeout,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// DefaultSourceTimeout applies when neither the source nor the runtime set one.
const DefaultSourceTimeout = 30 * time.Second

// SourceTimeout resolves the effective timeout for s.
func (p Pipeline) SourceTimeout(s Source) time.Duration {
	for _, v := range []string{s.Timeout, p.Runtime.SourceTimeout} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return DefaultSourceTimeout
}

// RunTimeout returns the overall timeout, zero when unset.
func (p Pipeline) RunTimeout() time.Duration {
	d, err := time.ParseDuration(p.Runtime.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Load reads a pipeline JSON file. Unknown fields are rejected.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	return Decode(b)
}

// Decode parses pipeline JSON.
func Decode(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// Env holds the process environment settings. Flags take precedence.
type Env struct {
	MetricsBackend string `envconfig:"METRICS_BACKEND"`
	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	MetricsTags    string `envconfig:"METRICS_TAGS"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"text"`
	StorageDSN     string `envconfig:"STORAGE_DSN"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, fmt.Errorf("load env: %w", err)
	}
	return e, nil
}

// ApplyEnv overrides the storage DSN from env and expands ${VAR} references
// in it, so credentials can stay out of the config file.
func ApplyEnv(p *Pipeline, e Env) {
	if p.Storage == nil {
		return
	}
	if e.StorageDSN != "" {
		p.Storage.DSN = e.StorageDSN
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
}
