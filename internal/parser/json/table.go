// Package json reads flows tables from JSON API responses and saved files.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"marketflows/internal/flows"
)

// ReadTable decodes JSON from r into a RawTable.
//
// Accepted shapes:
//   - an array of objects; keys become the header in first-seen order
//   - an array of arrays; the first array is the header
//   - an object whose first array-valued field holds either of the above
//     (envelope, e.g. {"status":"ok","data":[...]}); other fields are skipped
//   - a single object, read as one row
//
// Scalars are rendered as text (numbers verbatim, null as ""). Nested values
// are left empty.
func ReadTable(r io.Reader) (flows.RawTable, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return flows.RawTable{}, nil
	}
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("json: read first token: %w", err)
	}

	b := &tableBuilder{index: map[string]int{}}
	switch tok {
	case json.Delim('['):
		if err := b.readArray(dec); err != nil {
			return flows.RawTable{}, err
		}
	case json.Delim('{'):
		if err := b.readEnvelopeOrSingle(dec); err != nil {
			return flows.RawTable{}, err
		}
	default:
		return flows.RawTable{}, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}
	return b.table(), nil
}

// tableBuilder accumulates rows keyed by column name or position.
type tableBuilder struct {
	header []string
	index  map[string]int
	rows   []map[int]string
	// positional is set once an array row is read as the header.
	positional bool
}

func (b *tableBuilder) column(key string) int {
	if i, ok := b.index[key]; ok {
		return i
	}
	b.index[key] = len(b.header)
	b.header = append(b.header, key)
	return len(b.header) - 1
}

func (b *tableBuilder) table() flows.RawTable {
	t := flows.RawTable{Header: b.header}
	for _, r := range b.rows {
		row := make([]string, len(b.header))
		for i, v := range r {
			if i < len(row) {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// readArray consumes array elements after '[' up to and including ']'.
func (b *tableBuilder) readArray(dec *json.Decoder) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read array element: %w", err)
		}
		switch tok {
		case json.Delim('{'):
			if err := b.readObjectRow(dec); err != nil {
				return err
			}
		case json.Delim('['):
			if err := b.readArrayRow(dec); err != nil {
				return err
			}
		default:
			return fmt.Errorf("json: array element %v is not an object or array", tok)
		}
	}
	return expectDelim(dec, ']')
}

func (b *tableBuilder) readObjectRow(dec *json.Decoder) error {
	row := map[int]string{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}
		v, err := scalarText(dec)
		if err != nil {
			return err
		}
		row[b.column(key)] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	b.rows = append(b.rows, row)
	return nil
}

func (b *tableBuilder) readArrayRow(dec *json.Decoder) error {
	var cells []string
	for dec.More() {
		v, err := scalarText(dec)
		if err != nil {
			return err
		}
		cells = append(cells, v)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return err
	}
	if !b.positional && len(b.header) == 0 {
		b.positional = true
		for _, c := range cells {
			b.header = append(b.header, c)
		}
		return nil
	}
	row := map[int]string{}
	for i, c := range cells {
		row[i] = c
	}
	b.rows = append(b.rows, row)
	return nil
}

// readEnvelopeOrSingle walks a root object after '{'. The first array field
// is read as the table and every other field is skipped; with no array field
// the object itself is the single row. Scalar fields seen before the array
// are held back so envelope metadata never becomes a column.
func (b *tableBuilder) readEnvelopeOrSingle(dec *json.Decoder) error {
	var keys, vals []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object value: %w", err)
		}
		if valTok == json.Delim('[') {
			if err := b.readArray(dec); err != nil {
				return err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return err
				}
			}
			return expectDelim(dec, '}')
		}
		v, err := textFromFirstToken(dec, valTok)
		if err != nil {
			return err
		}
		keys, vals = append(keys, key), append(vals, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}

	single := map[int]string{}
	for i, k := range keys {
		single[b.column(k)] = vals[i]
	}
	b.rows = append(b.rows, single)
	return nil
}

func scalarText(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read value: %w", err)
	}
	return textFromFirstToken(dec, tok)
}

func textFromFirstToken(dec *json.Decoder, tok json.Token) (string, error) {
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case json.Delim:
		return "", skipValueFromFirstToken(dec, v)
	default:
		return fmt.Sprint(v), nil
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}
