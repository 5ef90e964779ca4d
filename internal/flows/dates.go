package flows

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// dayLayouts are tried in order. Numeric forms are day-first (Indian
// convention) with a month-first fallback for values that cannot be
// day-first, e.g. 09/18/2025.
var dayLayouts = []string{
	"2006-1-2",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/1/2",
	"20060102",

	"2-Jan-2006",
	"2 Jan 2006",
	"2-January-2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"Mon, 2 Jan 2006",
	"Mon 2 Jan 2006",
	"2-Jan-06",
	"2 Jan 06",

	"2-1-2006",
	"2/1/2006",
	"2.1.2006",
	"2-1-06",
	"2/1/06",
	"2.1.06",

	"1/2/2006",
	"1-2-2006",
}

// monthLayouts describe monthly rows; they resolve to the first of the month.
var monthLayouts = []string{
	"Jan 2006",
	"January 2006",
	"Jan-2006",
	"January-2006",
	"Jan-06",
	"Jan 06",
	"Jan'06",
	"2006-01",
}

// Excel stores dates as days since 1899-12-30. Only values in a plausible
// range are accepted so plain numbers are not mistaken for dates.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const (
	minExcelSerial = 20000 // 1954
	maxExcelSerial = 80000 // 2119
)

func cleanDate(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(s, ".")
	// "Sept" is common on Indian sites but unknown to the time package.
	if i := strings.Index(strings.ToLower(s), "sept"); i >= 0 && !strings.HasPrefix(strings.ToLower(s[i:]), "september") {
		s = s[:i+3] + s[i+4:]
	}
	return s
}

// ParseDate parses a date cell in any of the formats seen on NSE, SEBI and
// Trendlyne pages. Month names are matched case-insensitively. The result is
// a UTC midnight. ok is false when nothing matched.
func ParseDate(s string) (t time.Time, ok bool) {
	v := cleanDate(s)
	if v == "" {
		return time.Time{}, false
	}

	if t, ok := parseDay(v); ok {
		return t, true
	}
	if d, ok := stripClock(v); ok {
		return parseDay(d)
	}
	return time.Time{}, false
}

func parseDay(v string) (time.Time, bool) {
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return truncateDay(t), true
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return truncateDay(t), true
		}
	}
	// Excel serials; a fraction is the time of day.
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= minExcelSerial && f <= maxExcelSerial && !strings.ContainsAny(v, "eE") {
		return excelEpoch.AddDate(0, 0, int(f)), true
	}
	return time.Time{}, false
}

// stripClock removes a trailing time of day ("10:30", "10:30:00 AM") so the
// date part can be matched on its own.
func stripClock(v string) (string, bool) {
	fields := strings.Fields(v)
	n := len(fields)
	if n > 1 {
		switch strings.ToLower(fields[n-1]) {
		case "am", "pm", "ist":
			n--
		}
	}
	if n < 2 || !isClock(fields[n-1]) {
		return "", false
	}
	return strings.Join(fields[:n-1], " "), true
}

func isClock(s string) bool {
	s = strings.TrimRight(strings.ToLower(s), "apm")
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil || len(p) == 0 || len(p) > 2 {
			return false
		}
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
