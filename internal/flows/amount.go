package flows

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cellStatus classifies a cell after parsing.
type cellStatus int

const (
	cellOK cellStatus = iota
	cellBlank
	cellBad
)

// dashToMinus maps the minus-like runes that show up in copied web tables
// to ASCII '-'. NFKC already folds the full-width and small hyphen-minus.
func dashToMinus(r rune) rune {
	switch r {
	case '\u2212', '\u2012', '\u2013', '\u2014', '\ufe63', '\uff0d':
		return '-'
	}
	return r
}

// amountNoise is removed from amount cells before parsing.
func amountNoise(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == '\u20b9' || r == '\u200b'
}

// cleanAmount applies unicode normalization and strips grouping separators,
// whitespace and currency marks. The transformer chain is built per call
// because transform.Chain keeps internal buffers.
func cleanAmount(s string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Map(dashToMinus),
		runes.Remove(runes.Predicate(amountNoise)),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return out
}

var (
	amountPrefixes = []string{"rs.", "rs", "inr"}
	amountSuffixes = []string{"crores", "crore", "cr.", "cr"}
)

// blankMarkers are placeholders used by data pages for "no value".
var blankMarkers = map[string]struct{}{
	"-": {}, "--": {}, "na": {}, "n/a": {}, "nil": {},
}

func parseAmount(s string) (decimal.Decimal, cellStatus) {
	v := strings.ToLower(cleanAmount(s))
	if v == "" {
		return decimal.Zero, cellBlank
	}
	if _, ok := blankMarkers[v]; ok {
		return decimal.Zero, cellBlank
	}

	neg := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		neg = true
		v = v[1 : len(v)-1]
	}
	for _, p := range amountPrefixes {
		if strings.HasPrefix(v, p) {
			v = v[len(p):]
			break
		}
	}
	for _, sfx := range amountSuffixes {
		if strings.HasSuffix(v, sfx) {
			v = v[:len(v)-len(sfx)]
			break
		}
	}
	v = strings.TrimPrefix(v, "+")
	if neg {
		// "(-5)" is still a negative amount.
		v = strings.TrimPrefix(v, "-")
		if strings.HasPrefix(v, "-") {
			return decimal.Zero, cellBad
		}
	}
	if v == "" || !startsNumeric(v) {
		return decimal.Zero, cellBad
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, cellBad
	}
	if neg {
		d = d.Neg()
	}
	return d, cellOK
}

// startsNumeric rejects inputs such as "Inf" or "e5" before they reach the
// decimal parser.
func startsNumeric(v string) bool {
	c := v[0]
	if c == '-' && len(v) > 1 {
		c = v[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

// ParseAmount parses a crore amount as it appears in scraped tables.
// Thousands separators (including the Indian 1,02,864 grouping), whitespace,
// currency marks, unicode minus signs and accounting parentheses are handled.
// Anything unparseable yields zero.
func ParseAmount(s string) decimal.Decimal {
	d, _ := parseAmount(s)
	return d
}
