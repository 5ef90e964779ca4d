package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"marketflows/internal/extracthtml"
	"marketflows/internal/flows"
	"marketflows/internal/metrics"
)

// BrowserOptions configures a headless Chrome retrieval.
type BrowserOptions struct {
	URL string
	// Click is an XPath clicked after load, e.g. a "Monthly" tab.
	Click string
	// WaitFor is a CSS selector that must be visible before the page is
	// captured. Default "table".
	WaitFor   string
	UserAgent string
	Timeout   time.Duration
	Headful   bool
}

// Browser renders a page with chromedp and extracts its tables. It needs a
// local Chrome or Chromium.
type Browser struct {
	name  string
	opt   BrowserOptions
	table extracthtml.TableOptions

	// render returns the page HTML; replaced in tests.
	render func(ctx context.Context, opt BrowserOptions) (string, error)
}

// NewBrowser returns a chromedp-backed retriever.
func NewBrowser(name string, opt BrowserOptions, table extracthtml.TableOptions) *Browser {
	return &Browser{name: name, opt: opt, table: table, render: renderChrome}
}

func (b *Browser) Name() string { return b.name }

func (b *Browser) Retrieve(ctx context.Context) (flows.RawTable, error) {
	if b.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opt.Timeout)
		defer cancel()
	}

	start := time.Now()
	html, err := b.render(ctx, b.opt)
	metrics.RecordStep("browser_render", err, time.Since(start))
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("%s: render %s: %w", b.name, b.opt.URL, err)
	}
	t, err := extracthtml.ExtractTable(html, b.table)
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("%s: %w", b.name, err)
	}
	return t, nil
}

func renderChrome(ctx context.Context, opt BrowserOptions) (string, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opt.Headful),
	)
	if ua := strings.TrimSpace(opt.UserAgent); ua != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(ua))
	} else {
		allocOpts = append(allocOpts, chromedp.UserAgent(extracthtml.DefaultUserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	waitFor := opt.WaitFor
	if strings.TrimSpace(waitFor) == "" {
		waitFor = "table"
	}

	var html string
	tasks := chromedp.Tasks{chromedp.Navigate(opt.URL)}
	if opt.Click != "" {
		tasks = append(tasks,
			chromedp.WaitVisible(opt.Click, chromedp.BySearch),
			chromedp.Click(opt.Click, chromedp.BySearch),
		)
	}
	tasks = append(tasks,
		chromedp.WaitVisible(waitFor, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return "", err
	}
	return html, nil
}
