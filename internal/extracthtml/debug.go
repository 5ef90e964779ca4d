package extracthtml

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DebugPrintSelector prints the outer HTML, or with textOnly the collapsed
// text, of every match for selector, each followed by a blank line. It is the
// quickest way to find the right table_selector for a new page.
func DebugPrintSelector(w io.Writer, html, selector string, textOnly bool) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}

	matches := doc.Find(selector)
	matches.Each(func(_ int, s *goquery.Selection) {
		var out string
		if textOnly {
			out = strings.Join(strings.Fields(s.Text()), " ")
		} else if out, err = goquery.OuterHtml(s); err != nil {
			out, _ = s.Html()
		}
		fmt.Fprintf(w, "%s\n\n", out)
	})
	return matches.Length(), nil
}
