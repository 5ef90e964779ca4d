// Package flows turns loosely shaped FII/DII tables scraped from market data
// pages into the fixed nine-column record set consumed by the dashboard upload.
//
// The package is pure: it performs no I/O beyond loading column map files and
// holds no shared mutable state. Malformed cells never fail a table; they
// degrade to zero and are counted in a Report.
package flows

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field identifies one canonical output column.
type Field int

const (
	FieldDate Field = iota
	FieldFIIEquity
	FieldFIIDebt
	FieldFIIDerivatives
	FieldFIITotal
	FieldDIIEquity
	FieldDIIDebt
	FieldDIIDerivatives
	FieldDIITotal

	numFields
)

// NumFields is the number of canonical columns.
const NumFields = int(numFields)

// DateLayout is the output format of the Date column.
const DateLayout = "2006-01-02"

var fieldNames = [NumFields]string{
	"Date",
	"FII_Equity",
	"FII_Debt",
	"FII_Derivatives",
	"FII_Total",
	"DII_Equity",
	"DII_Debt",
	"DII_Derivatives",
	"DII_Total",
}

// String returns the canonical column name, e.g. "FII_Equity".
func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "Field(?)"
	}
	return fieldNames[f]
}

// Valid reports whether f is one of the nine canonical fields.
func (f Field) Valid() bool { return f >= 0 && f < numFields }

// Fields returns the canonical fields in output order.
func Fields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Header returns the canonical CSV header in output order.
func Header() []string {
	out := make([]string, NumFields)
	copy(out, fieldNames[:])
	return out
}

// ParseField resolves an exact canonical column name.
func ParseField(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Record is one normalized row. Amounts are in crore and may be negative.
//
// A Record is built once by NormalizeRow and passed around by value.
type Record struct {
	Date time.Time

	FIIEquity      decimal.Decimal
	FIIDebt        decimal.Decimal
	FIIDerivatives decimal.Decimal
	FIITotal       decimal.Decimal

	DIIEquity      decimal.Decimal
	DIIDebt        decimal.Decimal
	DIIDerivatives decimal.Decimal
	DIITotal       decimal.Decimal
}

// Amount returns the value of an amount field. FieldDate yields zero.
func (r Record) Amount(f Field) decimal.Decimal {
	switch f {
	case FieldFIIEquity:
		return r.FIIEquity
	case FieldFIIDebt:
		return r.FIIDebt
	case FieldFIIDerivatives:
		return r.FIIDerivatives
	case FieldFIITotal:
		return r.FIITotal
	case FieldDIIEquity:
		return r.DIIEquity
	case FieldDIIDebt:
		return r.DIIDebt
	case FieldDIIDerivatives:
		return r.DIIDerivatives
	case FieldDIITotal:
		return r.DIITotal
	default:
		return decimal.Zero
	}
}

// withAmount returns a copy of r with field f set to v.
func (r Record) withAmount(f Field, v decimal.Decimal) Record {
	switch f {
	case FieldFIIEquity:
		r.FIIEquity = v
	case FieldFIIDebt:
		r.FIIDebt = v
	case FieldFIIDerivatives:
		r.FIIDerivatives = v
	case FieldFIITotal:
		r.FIITotal = v
	case FieldDIIEquity:
		r.DIIEquity = v
	case FieldDIIDebt:
		r.DIIDebt = v
	case FieldDIIDerivatives:
		r.DIIDerivatives = v
	case FieldDIITotal:
		r.DIITotal = v
	}
	return r
}

// DateString renders Date as YYYY-MM-DD.
func (r Record) DateString() string {
	return r.Date.Format(DateLayout)
}

// Strings renders the record as nine cells in canonical order.
func (r Record) Strings() []string {
	out := make([]string, NumFields)
	out[FieldDate] = r.DateString()
	for f := FieldFIIEquity; f < numFields; f++ {
		out[f] = r.Amount(f).String()
	}
	return out
}

// zeroRecord has every amount set to an explicit zero.
func zeroRecord() Record {
	return Record{
		FIIEquity:      decimal.Zero,
		FIIDebt:        decimal.Zero,
		FIIDerivatives: decimal.Zero,
		FIITotal:       decimal.Zero,
		DIIEquity:      decimal.Zero,
		DIIDebt:        decimal.Zero,
		DIIDerivatives: decimal.Zero,
		DIITotal:       decimal.Zero,
	}
}

// RawTable is a table as scraped: optional header row plus text cells.
// An empty Header means columns are positional.
type RawTable struct {
	Header []string
	Rows   [][]string
}
