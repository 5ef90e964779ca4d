package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Severity grades a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a JSON-ish location such as
// "sources[1].url".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var storageKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}

// ValidatePipeline checks p and returns every problem found. Warnings do not
// prevent a run.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		warnf("job", "job name is empty; metrics will use a default")
	}

	if len(p.Sources) == 0 {
		errf("sources", "at least one source is required")
	}
	for i, s := range p.Sources {
		validateSource(fmt.Sprintf("sources[%d]", i), s, errf, warnf)
	}

	switch p.Aggregate {
	case "", "none", "monthly":
	default:
		errf("aggregate", "unknown aggregate %q (want none or monthly)", p.Aggregate)
	}

	if p.Output.CSV == "" && p.Output.XLSX == "" && p.Storage == nil {
		errf("output", "no output configured (csv, xlsx or storage)")
	}
	if p.Output.CSV != "" && p.Output.CSV == p.Output.XLSX {
		errf("output.xlsx", "xlsx path equals csv path")
	}

	if st := p.Storage; st != nil {
		if !storageKinds[st.Kind] {
			errf("storage.kind", "unknown storage kind %q", st.Kind)
		}
		if strings.TrimSpace(st.DSN) == "" {
			warnf("storage.dsn", "dsn is empty; STORAGE_DSN must be set")
		}
		if st.BatchSize < 0 {
			errf("storage.batch_size", "must be >= 0")
		}
	}

	checkDuration("runtime.timeout", p.Runtime.Timeout, errf)
	checkDuration("runtime.source_timeout", p.Runtime.SourceTimeout, errf)
	return out
}

func validateSource(path string, s Source, errf, warnf func(string, string, ...any)) {
	switch s.Kind {
	case KindHTTP, KindBrowser:
		if s.URL == "" {
			errf(path+".url", "url is required for %s sources", s.Kind)
		} else if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errf(path+".url", "invalid http(s) url %q", s.URL)
		}
		if s.Path != "" {
			warnf(path+".path", "path is ignored for %s sources", s.Kind)
		}
	case KindFile:
		if s.Path == "" {
			errf(path+".path", "path is required for file sources")
		}
	case "":
		errf(path+".kind", "kind is required")
	default:
		errf(path+".kind", "unknown source kind %q", s.Kind)
	}

	if s.Kind != KindBrowser && (s.Click != "" || s.WaitFor != "") {
		warnf(path, "click/wait_for only apply to browser sources")
	}
	if s.TableIndex != nil && *s.TableIndex < 0 {
		errf(path+".table_index", "must be >= 0")
	}
	if s.MinRows < 0 {
		errf(path+".min_rows", "must be >= 0")
	}
	checkDuration(path+".timeout", s.Timeout, errf)
}

func checkDuration(path, v string, errf func(string, string, ...any)) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		errf(path, "invalid duration %q", v)
		return
	}
	if d <= 0 {
		errf(path, "must be positive")
	}
}
