package flows

// Mapping records, for each canonical field, the source column index it is
// read from, or -1 when the table has no such column.
type Mapping struct {
	index    [NumFields]int
	unmapped []string
}

// emptyMapping has every field unresolved.
func emptyMapping() Mapping {
	var m Mapping
	for i := range m.index {
		m.index[i] = -1
	}
	return m
}

// MapColumns resolves header cells to canonical fields using cm.
//
// Unknown columns are ignored and reported by Unmapped. When two columns
// resolve to the same field the left-most one is used. An empty header
// selects cm's positional layout.
func MapColumns(header []string, cm *ColumnMap) Mapping {
	if cm == nil {
		cm = DefaultColumnMap()
	}
	m := emptyMapping()
	if len(header) == 0 {
		for i, f := range cm.positional {
			if f.Valid() && m.index[f] < 0 {
				m.index[f] = i
			}
		}
		return m
	}
	for i, h := range header {
		f, ok := cm.Lookup(h)
		if !ok {
			if HeaderKey(h) != "" {
				m.unmapped = append(m.unmapped, h)
			}
			continue
		}
		if m.index[f] < 0 {
			m.index[f] = i
		}
	}
	return m
}

// Column returns the source column index for f and whether it is mapped.
func (m Mapping) Column(f Field) (int, bool) {
	if !f.Valid() {
		return -1, false
	}
	i := m.index[f]
	return i, i >= 0
}

// Missing lists the fields with no source column, in canonical order.
func (m Mapping) Missing() []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if m.index[f] < 0 {
			out = append(out, f)
		}
	}
	return out
}

// Unmapped returns the header cells that matched no field.
func (m Mapping) Unmapped() []string {
	out := make([]string, len(m.unmapped))
	copy(out, m.unmapped)
	return out
}
