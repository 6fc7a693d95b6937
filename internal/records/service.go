// Package records provides generic CRUD over whatever tables the schema currently defines.
package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/relation"
	"minicrm/internal/store"
	"minicrm/internal/validation"
)

// Schemas is the read side of the schema service.
type Schemas interface {
	Current() *model.Schema
}

// Service serializes writes with one mutex so that uniqueness checks and the write that
// follows them are atomic within the process.
type Service struct {
	mu      sync.Mutex
	repo    store.RecordRepository
	schemas Schemas
	engine  *validation.Engine
	pub     notify.Publisher
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(repo store.RecordRepository, schemas Schemas, engine *validation.Engine, pub notify.Publisher, log *zap.SugaredLogger) *Service {
	if engine == nil {
		engine = validation.New()
	}
	if pub == nil {
		pub = notify.Discard
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		repo:    repo,
		schemas: schemas,
		engine:  engine,
		pub:     pub,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// View is a record as returned to clients.
type View struct {
	*model.Record
	DisplayValue          string                        `json:"display_value"`
	DisplayValueSecondary string                        `json:"display_value_secondary"`
	Related               map[string][]relation.Related `json:"related,omitempty"`
}

type Page struct {
	Items  []*View `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

func (s *Service) table(sc *model.Schema, key string) (*model.Table, error) {
	if t, ok := sc.TableByID(key); ok {
		return t, nil
	}
	if t, ok := sc.TableByName(key); ok {
		return t, nil
	}
	return nil, apperr.NotFound("table", key)
}

func (s *Service) view(t *model.Table, rec *model.Record) *View {
	p, sec := relation.Display(t, rec.ID, rec.Data)
	return &View{Record: rec, DisplayValue: p, DisplayValueSecondary: sec}
}

// load reads a record and restores canonical value types.
func (s *Service) load(ctx context.Context, t *model.Table, id string) (*model.Record, error) {
	rec, err := s.repo.GetRecord(ctx, t.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", t.Name, id, err)
	}
	rec.Data = validation.Canonicalize(t.Columns, rec.Data)
	return rec, nil
}

func (s *Service) loadAll(ctx context.Context, t *model.Table) ([]*model.Record, error) {
	recs, err := s.repo.ListRecords(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", t.Name, err)
	}
	for _, r := range recs {
		r.Data = validation.Canonicalize(t.Columns, r.Data)
	}
	return recs, nil
}

func (s *Service) Get(ctx context.Context, tableKey, id string, expand bool) (*View, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, t, id)
	if err != nil {
		return nil, err
	}
	v := s.view(t, rec)
	if expand {
		v.Related, err = relation.Resolve(ctx, s.repo, sc, t, rec)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (s *Service) Create(ctx context.Context, tableKey string, data map[string]any) (*View, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.prepare(ctx, sc, t, data, nil, true)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &model.Record{ID: model.NewID(), TableID: t.ID, Version: 1, Data: w.data, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", t.Name, err)
	}
	if err := s.syncLinks(ctx, sc, rec.ID, w); err != nil {
		return nil, err
	}
	s.publish(notify.ActionCreate, t.Name, "", rec.ID)
	return s.view(t, rec), nil
}

// Update replaces the record's data. Columns missing from data are cleared, including
// reference columns, whose link records are removed.
func (s *Service) Update(ctx context.Context, tableKey, id string, data map[string]any, expectedVersion *int64) (*View, error) {
	return s.write(ctx, tableKey, id, data, expectedVersion, true)
}

// Patch merges data into the stored record and validates the result. Only reference
// columns present in data resync their link records.
func (s *Service) Patch(ctx context.Context, tableKey, id string, data map[string]any, expectedVersion *int64) (*View, error) {
	return s.write(ctx, tableKey, id, data, expectedVersion, false)
}

func (s *Service) write(ctx context.Context, tableKey, id string, data map[string]any, expectedVersion *int64, replace bool) (*View, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("record", cur.ID, cur.Version, expectedVersion); err != nil {
		return nil, err
	}

	payload := data
	if !replace {
		payload = model.CloneData(cur.Data)
		for k, v := range data {
			payload[k] = v
		}
	}
	w, err := s.prepare(ctx, sc, t, payload, cur, replace)
	if err != nil {
		return nil, err
	}
	if !replace {
		// при PATCH синхронизируем только присланные ссылки
		for name := range w.refs {
			if _, sent := data[name]; !sent {
				delete(w.refs, name)
			}
		}
	}

	cur.Data = w.data
	cur.Version++
	cur.UpdatedAt = s.now()
	if err := s.repo.SaveRecord(ctx, cur); err != nil {
		return nil, fmt.Errorf("save record %s: %w", t.Name, err)
	}
	if err := s.syncLinks(ctx, sc, cur.ID, w); err != nil {
		return nil, err
	}
	s.publish(notify.ActionUpdate, t.Name, "", cur.ID)
	return s.view(t, cur), nil
}

// Delete removes the record, every link record touching it and its id from other
// records' reference columns.
func (s *Service) Delete(ctx context.Context, tableKey, id string, expectedVersion *int64) error {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(ctx, t, id)
	if err != nil {
		return err
	}
	if err := checkVersion("record", cur.ID, cur.Version, expectedVersion); err != nil {
		return err
	}
	if err := s.repo.DeleteRecord(ctx, t.ID, id); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", t.Name, id, err)
	}
	s.publish(notify.ActionDelete, t.Name, "", id)

	for _, l := range sc.LinkTables {
		if !l.Touches(t.ID) {
			continue
		}
		links, err := s.repo.ListLinkRecords(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("list link records %s: %w", l.Name, err)
		}
		for _, lr := range links {
			if (l.FromTableID == t.ID && lr.FromRecordID == id) || (l.ToTableID == t.ID && lr.ToRecordID == id) {
				if err := s.repo.DeleteLinkRecord(ctx, l.ID, lr.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("delete link record %s/%s: %w", l.Name, lr.ID, err)
				}
				s.publish(notify.ActionDeleteLinkRecord, "", l.Name, lr.ID)
			}
		}
	}
	return s.stripReferences(ctx, sc, t, id)
}

// stripReferences removes id from reference columns that point at table t.
func (s *Service) stripReferences(ctx context.Context, sc *model.Schema, t *model.Table, id string) error {
	for _, other := range sc.Tables {
		var cols []*model.Column
		for _, c := range other.Columns {
			if c.DataType != model.TypeReference {
				continue
			}
			side, err := relation.SideOf(sc, c, other.ID)
			if err != nil || side.Other.ID != t.ID {
				continue
			}
			cols = append(cols, c)
		}
		if len(cols) == 0 {
			continue
		}
		recs, err := s.loadAll(ctx, other)
		if err != nil {
			return err
		}
		for _, r := range recs {
			changed := false
			for _, c := range cols {
				if v, ok := without(r.Data[c.Name], id); ok {
					r.Data[c.Name] = v
					changed = true
				}
			}
			if !changed {
				continue
			}
			r.Version++
			r.UpdatedAt = s.now()
			if err := s.repo.SaveRecord(ctx, r); err != nil {
				return fmt.Errorf("save record %s: %w", other.Name, err)
			}
			s.publish(notify.ActionUpdate, other.Name, "", r.ID)
		}
	}
	return nil
}

func without(v any, id string) (any, bool) {
	switch t := v.(type) {
	case string:
		if t == id {
			return nil, true
		}
	case []any:
		out := make([]any, 0, len(t))
		for _, x := range t {
			if x != id {
				out = append(out, x)
			}
		}
		if len(out) != len(t) {
			return out, true
		}
	}
	return v, false
}

func (s *Service) List(ctx context.Context, tableKey string, opts ListOptions) (*Page, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return nil, err
	}
	filtered, err := s.filter(ctx, t, opts)
	if err != nil {
		return nil, err
	}
	sortRecords(t, filtered, opts.Sort, opts.Nulls)

	total := len(filtered)
	start := min(opts.Offset, total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	items := make([]*View, 0, end-start)
	for _, r := range filtered[start:end] {
		items = append(items, s.view(t, r))
	}
	return &Page{Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

func (s *Service) Count(ctx context.Context, tableKey string, opts ListOptions) (int, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return 0, err
	}
	filtered, err := s.filter(ctx, t, opts)
	if err != nil {
		return 0, err
	}
	return len(filtered), nil
}

func (s *Service) filter(ctx context.Context, t *model.Table, opts ListOptions) ([]*model.Record, error) {
	all, err := s.loadAll(ctx, t)
	if err != nil {
		return nil, err
	}
	var idSet map[string]bool
	if len(opts.IDs) > 0 {
		idSet = make(map[string]bool, len(opts.IDs))
		for _, id := range opts.IDs {
			idSet[id] = true
		}
	}
	out := make([]*model.Record, 0, len(all))
	for _, r := range all {
		if match(t, r, opts, idSet) {
			out = append(out, r)
		}
	}
	return out, nil
}

// BulkResult is one entry of a bulk create; exactly one of View and Err is set.
type BulkResult struct {
	View *View
	Err  error
}

// CreateMany creates each item independently; a failing item does not stop the rest.
func (s *Service) CreateMany(ctx context.Context, tableKey string, items []map[string]any) ([]BulkResult, error) {
	if _, err := s.table(s.schemas.Current(), tableKey); err != nil {
		return nil, err
	}
	out := make([]BulkResult, 0, len(items))
	for _, it := range items {
		v, err := s.Create(ctx, tableKey, it)
		out = append(out, BulkResult{View: v, Err: err})
	}
	return out, nil
}

func checkVersion(kind, id string, have int64, want *int64) error {
	if want == nil || *want == have {
		return nil
	}
	return apperr.Conflict(kind, id, "version mismatch: have "+strconv.FormatInt(have, 10)+", got "+strconv.FormatInt(*want, 10))
}

func (s *Service) publish(action, table, linkTable, id string) {
	ev := notify.DataEvent(action)
	ev.Table, ev.LinkTable, ev.ID = table, linkTable, id
	s.log.Debugw("data changed", "action", action, "table", table, "link_table", linkTable, "id", id)
	s.pub.Publish(ev)
}
