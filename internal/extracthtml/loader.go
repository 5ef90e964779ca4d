package extracthtml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"marketflows/internal/metrics"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// DefaultUserAgent is sent when a Loader has no user agent configured. Some
// market data sites reject the Go default.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// defaultMaxBody caps page size; flows pages are well below this.
const defaultMaxBody = 32 << 20

// ErrBodyTooLarge is returned when a response exceeds the loader's size cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Input describes where HTML should come from.
type Input struct {
	// URL, if provided, is fetched via HTTP GET.
	URL string

	// Headers are added to the request.
	Headers map[string]string

	// Stdin is used when URL is empty. If nil, stdin reads as empty.
	Stdin io.Reader
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	maxBody   int64
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, timeout: timeout, userAgent: DefaultUserAgent, maxBody: defaultMaxBody}
}

// WithUserAgent returns a copy of l sending ua. Empty keeps the current one.
func (l *Loader) WithUserAgent(ua string) *Loader {
	cp := *l
	if strings.TrimSpace(ua) != "" {
		cp.userAgent = ua
	}
	return &cp
}

// Load returns the HTML source for either stdin (when input.URL is empty)
// or a fetched URL. Every HTTP attempt is recorded with metrics.RecordHTTP.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body for debugging. Bodies over the size
// cap fail with ErrBodyTooLarge instead of being truncated.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	if strings.TrimSpace(input.URL) == "" {
		if input.Stdin == nil {
			return "", nil
		}
		b, err := io.ReadAll(input.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/csv;q=0.9,*/*;q=0.8")
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0, 0)
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	headersAt := time.Now()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		metrics.RecordHTTP(resp.StatusCode, statusErr, headersAt.Sub(start), time.Since(headersAt), int64(len(body)))
		return "", statusErr
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err == nil && int64(len(b)) > l.maxBody {
		err = fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, l.maxBody)
	}
	metrics.RecordHTTP(resp.StatusCode, err, headersAt.Sub(start), time.Since(headersAt), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if enc := bodyEncoding(resp.Header.Get("Content-Type")); enc != nil {
		if b, err = enc.NewDecoder().Bytes(b); err != nil {
			return "", fmt.Errorf("decode body: %w", err)
		}
	}
	return string(b), nil
}

// bodyEncoding returns the decoder for a non-UTF-8 charset declared in
// contentType, or nil when the body can be used as is.
func bodyEncoding(contentType string) encoding.Encoding {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil
	}
	e, name := charset.Lookup(params["charset"])
	if e == nil || name == "utf-8" {
		return nil
	}
	return e
}
