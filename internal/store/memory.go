package store

import (
	"context"
	"sort"
	"sync"

	"minicrm/internal/model"
)

// Memory keeps everything in maps guarded by one RWMutex. It is the default driver
// and the backend used by service tests.
type Memory struct {
	mu          sync.RWMutex
	tables      map[string]*model.Table
	columns     map[string]*model.Column
	enums       map[string]*model.Enum
	linkTables  map[string]*model.LinkTable
	records     map[string]map[string]*model.Record     // table id -> id -> record
	linkRecords map[string]map[string]*model.LinkRecord // link table id -> id -> link record
}

func NewMemory() *Memory {
	return &Memory{
		tables:      make(map[string]*model.Table),
		columns:     make(map[string]*model.Column),
		enums:       make(map[string]*model.Enum),
		linkTables:  make(map[string]*model.LinkTable),
		records:     make(map[string]map[string]*model.Record),
		linkRecords: make(map[string]map[string]*model.LinkRecord),
	}
}

func (m *Memory) LoadSchema(_ context.Context) (*model.Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &model.Schema{Tables: []*model.Table{}, Enums: []*model.Enum{}, LinkTables: []*model.LinkTable{}}
	byOwner := make(map[string][]*model.Column)
	for _, c := range m.columns {
		byOwner[c.OwnerID()] = append(byOwner[c.OwnerID()], c.Clone())
	}
	for _, t := range m.tables {
		cp := *t
		cp.Columns = ownedColumns(byOwner, t.ID)
		s.Tables = append(s.Tables, &cp)
	}
	for _, e := range m.enums {
		s.Enums = append(s.Enums, e.Clone())
	}
	for _, l := range m.linkTables {
		cp := *l
		cp.Columns = ownedColumns(byOwner, l.ID)
		s.LinkTables = append(s.LinkTables, &cp)
	}
	s.Sort()
	return s, nil
}

func ownedColumns(byOwner map[string][]*model.Column, ownerID string) []*model.Column {
	if cols := byOwner[ownerID]; cols != nil {
		return cols
	}
	return []*model.Column{}
}

func (m *Memory) SaveTable(_ context.Context, t *model.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.Columns = nil
	m.tables[t.ID] = &cp
	return nil
}

func (m *Memory) DeleteTable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		return ErrNotFound
	}
	delete(m.tables, id)
	for cid, c := range m.columns {
		if c.TableID == id {
			delete(m.columns, cid)
		}
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) SaveColumn(_ context.Context, c *model.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[c.ID] = c.Clone()
	return nil
}

func (m *Memory) DeleteColumn(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[id]; !ok {
		return ErrNotFound
	}
	delete(m.columns, id)
	return nil
}

func (m *Memory) SaveEnum(_ context.Context, e *model.Enum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enums[e.ID] = e.Clone()
	return nil
}

func (m *Memory) DeleteEnum(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enums[id]; !ok {
		return ErrNotFound
	}
	delete(m.enums, id)
	return nil
}

func (m *Memory) SaveLinkTable(_ context.Context, l *model.LinkTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	cp.Columns = nil
	m.linkTables[l.ID] = &cp
	return nil
}

func (m *Memory) DeleteLinkTable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.linkTables[id]; !ok {
		return ErrNotFound
	}
	delete(m.linkTables, id)
	for cid, c := range m.columns {
		if c.LinkTableID == id {
			delete(m.columns, cid)
		}
	}
	delete(m.linkRecords, id)
	return nil
}

func (m *Memory) SaveRecord(_ context.Context, r *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[r.TableID] == nil {
		m.records[r.TableID] = make(map[string]*model.Record)
	}
	m.records[r.TableID][r.ID] = r.Clone()
	return nil
}

func (m *Memory) GetRecord(_ context.Context, tableID, id string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.records[tableID][id]
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) DeleteRecord(_ context.Context, tableID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[tableID][id] == nil {
		return ErrNotFound
	}
	delete(m.records[tableID], id)
	return nil
}

func (m *Memory) ListRecords(_ context.Context, tableID string) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Record, 0, len(m.records[tableID]))
	for _, r := range m.records[tableID] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountRecords(_ context.Context, tableID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[tableID]), nil
}

func (m *Memory) SaveLinkRecord(_ context.Context, r *model.LinkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkRecords[r.LinkTableID] == nil {
		m.linkRecords[r.LinkTableID] = make(map[string]*model.LinkRecord)
	}
	m.linkRecords[r.LinkTableID][r.ID] = r.Clone()
	return nil
}

func (m *Memory) GetLinkRecord(_ context.Context, linkTableID, id string) (*model.LinkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.linkRecords[linkTableID][id]
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) DeleteLinkRecord(_ context.Context, linkTableID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkRecords[linkTableID][id] == nil {
		return ErrNotFound
	}
	delete(m.linkRecords[linkTableID], id)
	return nil
}

func (m *Memory) ListLinkRecords(_ context.Context, linkTableID string) ([]*model.LinkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.LinkRecord, 0, len(m.linkRecords[linkTableID]))
	for _, r := range m.linkRecords[linkTableID] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountLinkRecords(_ context.Context, linkTableID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.linkRecords[linkTableID]), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
