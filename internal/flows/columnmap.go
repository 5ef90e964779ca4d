package flows

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ColumnMapVersion is the only column map file version understood.
const ColumnMapVersion = 1

//go:embed default_columns.json
var defaultColumnsJSON []byte

// ColumnMapFile is the on-disk form of a column map.
//
// Columns lists, per canonical field, the header spellings seen on source
// pages. Positional gives the field order for tables without a header; an
// empty entry skips that column.
type ColumnMapFile struct {
	Version    int                 `json:"version"`
	Positional []string            `json:"positional,omitempty"`
	Columns    map[string][]string `json:"columns"`
}

// ColumnMap resolves source header names to canonical fields.
// It is immutable after construction and safe for concurrent use.
type ColumnMap struct {
	version    int
	aliases    map[string]Field
	positional []Field
}

// NewColumnMap validates f and builds a ColumnMap.
//
// Every canonical name always resolves to itself, so a table that already
// uses the output header is accepted unchanged. An alias claimed by two
// different fields is an error.
func NewColumnMap(f ColumnMapFile) (*ColumnMap, error) {
	if f.Version != ColumnMapVersion {
		return nil, fmt.Errorf("column map version %d not supported (want %d)", f.Version, ColumnMapVersion)
	}
	if len(f.Columns) == 0 {
		return nil, fmt.Errorf("column map has no columns")
	}

	m := &ColumnMap{
		version: f.Version,
		aliases: make(map[string]Field, len(f.Columns)*4+NumFields),
	}
	for _, field := range Fields() {
		m.aliases[HeaderKey(field.String())] = field
	}

	// Sorted for deterministic conflict errors.
	names := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := ParseField(name)
		if !ok {
			return nil, fmt.Errorf("column map: unknown field %q", name)
		}
		for _, alias := range f.Columns[name] {
			key := HeaderKey(alias)
			if key == "" {
				return nil, fmt.Errorf("column map: empty alias for %s", name)
			}
			if prev, exists := m.aliases[key]; exists && prev != field {
				return nil, fmt.Errorf("column map: alias %q maps to both %s and %s", alias, prev, field)
			}
			m.aliases[key] = field
		}
	}

	for _, field := range Fields() {
		if _, ok := f.Columns[field.String()]; !ok {
			return nil, fmt.Errorf("column map: no entry for %s", field)
		}
	}

	if len(f.Positional) == 0 {
		m.positional = Fields()
	} else {
		m.positional = make([]Field, len(f.Positional))
		for i, name := range f.Positional {
			if strings.TrimSpace(name) == "" {
				m.positional[i] = -1
				continue
			}
			field, ok := ParseField(name)
			if !ok {
				return nil, fmt.Errorf("column map: unknown positional field %q at %d", name, i)
			}
			m.positional[i] = field
		}
	}
	return m, nil
}

// LoadColumnMap reads and validates a JSON column map file.
func LoadColumnMap(path string) (*ColumnMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column map: %w", err)
	}
	return parseColumnMap(b)
}

func parseColumnMap(b []byte) (*ColumnMap, error) {
	var f ColumnMapFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse column map json: %w", err)
	}
	return NewColumnMap(f)
}

var defaultColumnMap = mustDefaultColumnMap()

func mustDefaultColumnMap() *ColumnMap {
	m, err := parseColumnMap(defaultColumnsJSON)
	if err != nil {
		panic(fmt.Sprintf("flows: embedded column map: %v", err))
	}
	return m
}

// DefaultColumnMap returns the built-in column map covering the Trendlyne,
// NSE and SEBI header variants.
func DefaultColumnMap() *ColumnMap { return defaultColumnMap }

// Version reports the file version the map was built from.
func (m *ColumnMap) Version() int { return m.version }

// Lookup resolves one source header cell.
func (m *ColumnMap) Lookup(header string) (Field, bool) {
	f, ok := m.aliases[HeaderKey(header)]
	return f, ok
}

// dropFormat removes format characters (BOM, zero-width space and joiners)
// that survive copy and paste from web pages.
var dropFormat = runes.Remove(runes.In(unicode.Cf))

// HeaderKey folds a header cell into the form used for matching: NFKC,
// case-folded, format characters removed, '_' '-' '.' treated as spaces,
// whitespace collapsed and a trailing unit in parentheses such as "(₹ Cr)"
// dropped.
func HeaderKey(s string) string {
	s = norm.NFKC.String(s)
	if out, _, err := transform.String(dropFormat, s); err == nil {
		s = out
	}
	s = cases.Fold().String(s)
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ")") {
		if i := strings.LastIndex(s, "("); i > 0 {
			s = s[:i]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
