// Package metrics is the backend-neutral metrics facade used by the pipeline.
//
// Code records through the package-level helpers; a command picks a Backend
// once at startup with SetBackend. The default backend drops everything.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends may ignore names they do not know.
const (
	StepTotal           = "flows_step_total"
	StepDurationSeconds = "flows_step_duration_seconds"
	SourceTotal         = "flows_source_total"
	RecordsTotal        = "flows_records_total"
	DegradedFieldsTotal = "flows_degraded_fields_total"
	BatchesTotal        = "flows_batches_total"
	HTTPRequestsTotal   = "flows_http_requests_total"
	HTTPErrorsTotal     = "flows_http_errors_total"
	HTTPRequestSeconds  = "flows_http_request_duration_seconds"
	HTTPResponseSeconds = "flows_http_response_duration_seconds"
	HTTPDownloadBytes   = "flows_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. nil restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status(err)}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordSource counts one retrieval attempt against a named source.
func RecordSource(source string, err error) {
	current().IncCounter(SourceTotal, 1, Labels{"source": source, "status": status(err)})
}

// RecordRecords counts records by kind ("retrieved", "written", "stored").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordDegraded counts cells of field that could not be parsed.
func RecordDegraded(field string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(DegradedFieldsTotal, float64(n), Labels{"field": field})
}

// RecordBatch counts one storage batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordHTTP records one HTTP fetch. statusCode 0 means no response.
func RecordHTTP(statusCode int, err error, reqDur, respDur time.Duration, bytes int64) {
	b := current()
	st := "none"
	if statusCode > 0 {
		st = strconv.Itoa(statusCode)
	}
	l := Labels{"status": st}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode < 200 || statusCode >= 300 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur > 0 {
		b.ObserveHistogram(HTTPRequestSeconds, reqDur.Seconds(), l)
	}
	if respDur > 0 {
		b.ObserveHistogram(HTTPResponseSeconds, respDur.Seconds(), l)
	}
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
