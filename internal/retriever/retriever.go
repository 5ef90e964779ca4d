// Package retriever fetches a raw flows table from one configured source:
// a page over HTTP, a page rendered in headless Chrome, or a manually
// downloaded file.
package retriever

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketflows/internal/config"
	"marketflows/internal/extracthtml"
	"marketflows/internal/flows"
	jsonparser "marketflows/internal/parser/json"
)

// ErrNoTable is returned (wrapped) when a source yields no usable table.
var ErrNoTable = extracthtml.ErrNoTable

// Retriever produces one raw table per call. Implementations do not retry.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context) (flows.RawTable, error)
}

// Options are process-wide settings shared by all retrievers.
type Options struct {
	// Client is used for HTTP sources; nil means http.DefaultClient.
	Client    *http.Client
	UserAgent string
	// Timeout bounds one retrieval. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Headful shows the browser window, useful when writing click paths.
	Headful bool
}

// New builds the retriever for src.
func New(src config.Source, opt Options) (Retriever, error) {
	table := extracthtml.TableOptions{
		Selector:  src.TableSelector,
		Index:     src.TableIndex,
		MinRows:   src.MinRows,
		HasHeader: src.HasHeader,
	}
	switch src.Kind {
	case config.KindHTTP:
		if strings.TrimSpace(src.URL) == "" {
			return nil, fmt.Errorf("source %q: http source needs a url", src.DisplayName())
		}
		return &HTTP{
			name:    src.DisplayName(),
			url:     src.URL,
			headers: src.Headers,
			loader:  extracthtml.NewLoader(opt.Client, opt.Timeout).WithUserAgent(opt.UserAgent),
			table:   table,
		}, nil
	case config.KindBrowser:
		if strings.TrimSpace(src.URL) == "" {
			return nil, fmt.Errorf("source %q: browser source needs a url", src.DisplayName())
		}
		return NewBrowser(src.DisplayName(), BrowserOptions{
			URL:       src.URL,
			Click:     src.Click,
			WaitFor:   src.WaitFor,
			UserAgent: opt.UserAgent,
			Timeout:   opt.Timeout,
			Headful:   opt.Headful,
		}, table), nil
	case config.KindFile:
		if strings.TrimSpace(src.Path) == "" {
			return nil, fmt.Errorf("source %q: file source needs a path", src.DisplayName())
		}
		return &File{name: src.DisplayName(), path: src.Path, sheet: src.Sheet, table: table}, nil
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", src.DisplayName(), src.Kind)
	}
}

// HTTP retrieves a page with a plain GET. JSON bodies (exchange APIs) are
// read as data; anything else is treated as HTML.
type HTTP struct {
	name    string
	url     string
	headers map[string]string
	loader  *extracthtml.Loader
	table   extracthtml.TableOptions
}

func (h *HTTP) Name() string { return h.name }

func (h *HTTP) Retrieve(ctx context.Context) (flows.RawTable, error) {
	body, err := h.loader.Load(ctx, extracthtml.Input{URL: h.url, Headers: h.headers})
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("%s: %w", h.name, err)
	}
	if looksLikeJSON(body) {
		t, err := jsonparser.ReadTable(strings.NewReader(body))
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", h.name, err)
		}
		return requireRows(h.name, t, h.table.MinRows)
	}
	t, err := extracthtml.ExtractTable(body, h.table)
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("%s: %w", h.name, err)
	}
	return t, nil
}

func looksLikeJSON(body string) bool {
	s := strings.TrimSpace(body)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// requireRows rejects tables with fewer than min data rows (default 1).
func requireRows(name string, t flows.RawTable, min int) (flows.RawTable, error) {
	if min <= 0 {
		min = 1
	}
	if len(t.Rows) < min {
		return flows.RawTable{}, fmt.Errorf("%s: %d rows, want %d+: %w", name, len(t.Rows), min, ErrNoTable)
	}
	return t, nil
}
