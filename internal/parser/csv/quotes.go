package csv

import (
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// quotePadTrimmer drops spaces and tabs between a closing quote and the
// following delimiter or line end, so `"-1,124.5" ,` reads like
// `"-1,124.5",`. encoding/csv rejects the padded form even with
// TrimLeadingSpace set.
type quotePadTrimmer struct {
	comma rune

	inQuotes   bool
	afterClose bool
}

func newQuotePadTrimmer(comma rune) *quotePadTrimmer {
	return &quotePadTrimmer{comma: comma}
}

func (t *quotePadTrimmer) Reset() {
	t.inQuotes, t.afterClose = false, false
}

func (t *quotePadTrimmer) isPad(c byte) bool {
	return (c == ' ' || c == '\t') && rune(c) != t.comma
}

func (t *quotePadTrimmer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]

		if t.afterClose && t.isPad(c) {
			j := nSrc
			for j < len(src) && t.isPad(src[j]) {
				j++
			}
			if j == len(src) {
				if !atEOF {
					return nDst, nSrc, transform.ErrShortSrc
				}
				return nDst, j, nil
			}
			ends, ok := t.endsField(src[j:], atEOF)
			if !ok {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if !ends {
				if len(dst)-nDst < j-nSrc {
					return nDst, nSrc, transform.ErrShortDst
				}
				nDst += copy(dst[nDst:], src[nSrc:j])
			}
			nSrc = j
			t.afterClose = false
			continue
		}
		t.afterClose = false

		if c == '"' {
			t.inQuotes = !t.inQuotes
			t.afterClose = !t.inQuotes
		}
		if nDst == len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// endsField reports whether b starts with the delimiter or a line break. ok
// is false when b holds only part of a multi-byte delimiter.
func (t *quotePadTrimmer) endsField(b []byte, atEOF bool) (ends, ok bool) {
	switch b[0] {
	case '\n', '\r':
		return true, true
	}
	if t.comma < utf8.RuneSelf {
		return rune(b[0]) == t.comma, true
	}
	if !utf8.FullRune(b) && !atEOF {
		return false, false
	}
	r, _ := utf8.DecodeRune(b)
	return r == t.comma, true
}
