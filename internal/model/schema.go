package model

import (
	"sort"
	"strings"
)

// Schema is a full snapshot of the runtime-defined metadata.
type Schema struct {
	Tables     []*Table     `json:"tables"`
	Enums      []*Enum      `json:"enums"`
	LinkTables []*LinkTable `json:"link_tables"`
}

func (s *Schema) TableByID(id string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// TableByName matches exactly first, then case-insensitively.
func (s *Schema) TableByName(name string) (*Table, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

func (s *Schema) EnumByID(id string) (*Enum, bool) {
	for _, e := range s.Enums {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

func (s *Schema) EnumByName(name string) (*Enum, bool) {
	for _, e := range s.Enums {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}

func (s *Schema) LinkTableByID(id string) (*LinkTable, bool) {
	for _, l := range s.LinkTables {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

func (s *Schema) LinkTableByName(name string) (*LinkTable, bool) {
	name = strings.TrimSpace(name)
	for _, l := range s.LinkTables {
		if l.Name == name {
			return l, true
		}
	}
	for _, l := range s.LinkTables {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return nil, false
}

// ColumnByID searches table and link table columns.
func (s *Schema) ColumnByID(id string) (*Column, bool) {
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.ID == id {
				return c, true
			}
		}
	}
	for _, l := range s.LinkTables {
		for _, c := range l.Columns {
			if c.ID == id {
				return c, true
			}
		}
	}
	return nil, false
}

// ColumnsOf returns the column set of a table or link table.
func (s *Schema) ColumnsOf(ownerID string) []*Column {
	if t, ok := s.TableByID(ownerID); ok {
		return t.Columns
	}
	if l, ok := s.LinkTableByID(ownerID); ok {
		return l.Columns
	}
	return nil
}

// Sort puts every collection in id (creation) order.
func (s *Schema) Sort() {
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].ID < s.Tables[j].ID })
	sort.Slice(s.Enums, func(i, j int) bool { return s.Enums[i].ID < s.Enums[j].ID })
	sort.Slice(s.LinkTables, func(i, j int) bool { return s.LinkTables[i].ID < s.LinkTables[j].ID })
	for _, t := range s.Tables {
		sortColumns(t.Columns)
	}
	for _, l := range s.LinkTables {
		sortColumns(l.Columns)
	}
}

func sortColumns(cols []*Column) {
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
}

// Clone deep-copies the snapshot so callers can never mutate the cached one.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Tables:     make([]*Table, 0, len(s.Tables)),
		Enums:      make([]*Enum, 0, len(s.Enums)),
		LinkTables: make([]*LinkTable, 0, len(s.LinkTables)),
	}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, t.Clone())
	}
	for _, e := range s.Enums {
		out.Enums = append(out.Enums, e.Clone())
	}
	for _, l := range s.LinkTables {
		out.LinkTables = append(out.LinkTables, l.Clone())
	}
	return out
}

func (t *Table) Clone() *Table {
	cp := *t
	cp.Columns = cloneColumns(t.Columns)
	return &cp
}

func (l *LinkTable) Clone() *LinkTable {
	cp := *l
	cp.Columns = cloneColumns(l.Columns)
	return &cp
}

func (e *Enum) Clone() *Enum {
	cp := *e
	cp.Values = append([]string{}, e.Values...)
	return &cp
}

func (c *Column) Clone() *Column {
	cp := *c
	return &cp
}

func cloneColumns(cols []*Column) []*Column {
	out := make([]*Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.Clone())
	}
	return out
}

// CloneData copies a payload one level deep, including list values.
func CloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if arr, ok := v.([]any); ok {
			v = append([]any{}, arr...)
		}
		out[k] = v
	}
	return out
}

func (r *Record) Clone() *Record {
	cp := *r
	cp.Data = CloneData(r.Data)
	return &cp
}

func (r *LinkRecord) Clone() *LinkRecord {
	cp := *r
	cp.Data = CloneData(r.Data)
	return &cp
}
