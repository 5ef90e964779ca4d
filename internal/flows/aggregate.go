package flows

import "time"

// AggregateMonthly sums records by calendar month. Months appear in the order
// they are first seen and each result is dated the first of its month.
// Records with a zero Date are kept together under the zero date.
func AggregateMonthly(recs []Record) []Record {
	type key struct {
		y int
		m time.Month
	}
	idx := make(map[key]int)
	var out []Record

	for _, r := range recs {
		k := key{}
		if !r.Date.IsZero() {
			k = key{r.Date.Year(), r.Date.Month()}
		}
		i, ok := idx[k]
		if !ok {
			agg := zeroRecord()
			if !r.Date.IsZero() {
				agg.Date = time.Date(k.y, k.m, 1, 0, 0, 0, 0, time.UTC)
			}
			idx[k] = len(out)
			out = append(out, agg)
			i = len(out) - 1
		}
		for f := FieldFIIEquity; f < numFields; f++ {
			out[i] = out[i].withAmount(f, out[i].Amount(f).Add(r.Amount(f)))
		}
	}
	return out
}
