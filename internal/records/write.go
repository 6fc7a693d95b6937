package records

import (
	"context"
	"errors"
	"fmt"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/relation"
	"minicrm/internal/store"
	"minicrm/internal/validation"
)

// refWrite is the link-record side effect of writing one reference column.
type refWrite struct {
	side     relation.Side
	sel      relation.Selection
	existing map[string]*model.LinkRecord // related id -> link record of the owner
	attrs    map[string]map[string]any    // validated attributes to store, by related id
}

type writeSet struct {
	data  map[string]any
	refs  map[string]*refWrite
	order []string // reference columns in schema order
}

// prepare validates payload for table t and the link attributes carried by its reference
// selections. Every problem is reported in a single ValidationError; nothing is written.
func (s *Service) prepare(ctx context.Context, sc *model.Schema, t *model.Table, payload map[string]any, cur *model.Record, replace bool) (*writeSet, error) {
	payload = model.CloneData(payload)
	var errs []apperr.FieldError
	w := &writeSet{refs: map[string]*refWrite{}}

	for _, col := range t.Columns {
		if col.DataType != model.TypeReference {
			continue
		}
		v, present := payload[col.Name]
		if !present && !replace {
			continue
		}
		sel, err := relation.ParseSelection(v, col.IsList)
		if err != nil {
			errs = append(errs, apperr.Ferr(apperr.CodeTypeMismatch, col.Name, "Field '"+col.Name+"' "+err.Error()))
			delete(payload, col.Name)
			continue
		}
		if present {
			payload[col.Name] = sel.Value(col.IsList)
		}
		side, err := relation.SideOf(sc, col, t.ID)
		if err != nil {
			// значение всё равно проверит движок валидации
			continue
		}
		w.refs[col.Name] = &refWrite{side: side, sel: sel, attrs: map[string]map[string]any{}}
		w.order = append(w.order, col.Name)
	}

	lk := &lookup{s: s, sc: sc}
	ownerID := ""
	if cur != nil {
		ownerID = cur.ID
	}
	data, err := s.engine.Validate(ctx, lk, validation.Input{
		Schema:    sc,
		OwnerID:   t.ID,
		Columns:   t.Columns,
		Data:      payload,
		ExcludeID: ownerID,
	})
	if verr, ok := apperr.AsValidation(err); ok {
		selErrs := errs
		for _, f := range verr.Fields {
			// поле с неразобранной ссылкой уже отчитано, "required" для него лишний
			if hasField(selErrs, f.Field) {
				continue
			}
			errs = append(errs, f)
		}
	} else if err != nil {
		return nil, err
	}

	linkCache := map[string][]*model.LinkRecord{}
	for _, name := range w.order {
		rw := w.refs[name]
		if hasField(errs, name) {
			continue
		}
		rw.existing = map[string]*model.LinkRecord{}
		if ownerID != "" {
			links, ok := linkCache[rw.side.Link.ID]
			if !ok {
				links, err = s.repo.ListLinkRecords(ctx, rw.side.Link.ID)
				if err != nil {
					return nil, fmt.Errorf("list link records %s: %w", rw.side.Link.Name, err)
				}
				linkCache[rw.side.Link.ID] = links
			}
			for _, lr := range links {
				if rel, mine := rw.side.Related(lr, ownerID); mine {
					rw.existing[rel] = lr
				}
			}
		}

		for _, id := range rw.sel.IDs {
			given, hasAttrs := rw.sel.Attributes[id]
			ex := rw.existing[id]
			if !hasAttrs && ex != nil {
				continue
			}
			if given == nil {
				given = map[string]any{}
			}
			exclude := ""
			if ex != nil {
				exclude = ex.ID
			}
			attrs, err := s.engine.Validate(ctx, lk, validation.Input{
				Schema:    sc,
				OwnerID:   rw.side.Link.ID,
				Columns:   rw.side.Link.Columns,
				Data:      given,
				ExcludeID: exclude,
			})
			if verr, ok := apperr.AsValidation(err); ok {
				for _, f := range verr.Fields {
					f.Field = name + "." + id + "." + f.Field
					errs = append(errs, f)
				}
				continue
			} else if err != nil {
				return nil, err
			}
			rw.attrs[id] = attrs
		}
	}

	if len(errs) > 0 {
		return nil, apperr.Invalid(errs...)
	}
	w.data = data
	return w, nil
}

func hasField(errs []apperr.FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// syncLinks brings the link records of ownerID in line with the selections of w. The
// reference column on the other side of each added or removed link follows along.
func (s *Service) syncLinks(ctx context.Context, sc *model.Schema, ownerID string, w *writeSet) error {
	for _, name := range w.order {
		rw, ok := w.refs[name]
		if !ok {
			continue
		}
		l := rw.side.Link
		selected := make(map[string]bool, len(rw.sel.IDs))
		for _, id := range rw.sel.IDs {
			selected[id] = true
			attrs, changed := rw.attrs[id]
			ex := rw.existing[id]
			switch {
			case ex != nil && !changed:
				continue
			case ex != nil:
				ex.Data = attrs
				ex.Version++
				ex.UpdatedAt = s.now()
				if err := s.repo.SaveLinkRecord(ctx, ex); err != nil {
					return fmt.Errorf("save link record %s: %w", l.Name, err)
				}
				s.publish(notify.ActionUpdateLinkRecord, "", l.Name, ex.ID)
			default:
				from, to := rw.side.Pair(ownerID, id)
				now := s.now()
				lr := &model.LinkRecord{ID: model.NewID(), LinkTableID: l.ID, FromRecordID: from, ToRecordID: to,
					Version: 1, Data: attrs, CreatedAt: now, UpdatedAt: now}
				if lr.Data == nil {
					lr.Data = map[string]any{}
				}
				if err := s.repo.SaveLinkRecord(ctx, lr); err != nil {
					return fmt.Errorf("save link record %s: %w", l.Name, err)
				}
				s.publish(notify.ActionCreateLinkRecord, "", l.Name, lr.ID)
				if err := s.selectOn(ctx, sc, l, rw.side.Other.ID, id, ownerID); err != nil {
					return err
				}
			}
		}
		for rel, ex := range rw.existing {
			if selected[rel] {
				continue
			}
			if err := s.repo.DeleteLinkRecord(ctx, l.ID, ex.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("delete link record %s: %w", l.Name, err)
			}
			s.publish(notify.ActionDeleteLinkRecord, "", l.Name, ex.ID)
			if err := s.unselect(ctx, sc, l, rw.side.Other.ID, rel, ownerID); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookup answers validation's store questions against the current schema.
type lookup struct {
	s  *Service
	sc *model.Schema
}

func (l *lookup) RecordExists(ctx context.Context, tableID, id string) (bool, error) {
	_, err := l.s.repo.GetRecord(ctx, tableID, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (l *lookup) ValueTaken(ctx context.Context, ownerID, column string, value any, excludeID string) (bool, error) {
	key := validation.Key(value)
	if t, ok := l.sc.TableByID(ownerID); ok {
		recs, err := l.s.loadAll(ctx, t)
		if err != nil {
			return false, err
		}
		for _, r := range recs {
			if r.ID != excludeID && r.Data[column] != nil && validation.Key(r.Data[column]) == key {
				return true, nil
			}
		}
		return false, nil
	}
	lt, ok := l.sc.LinkTableByID(ownerID)
	if !ok {
		return false, nil
	}
	links, err := l.s.repo.ListLinkRecords(ctx, lt.ID)
	if err != nil {
		return false, fmt.Errorf("list link records %s: %w", lt.Name, err)
	}
	for _, lr := range links {
		data := validation.Canonicalize(lt.Columns, lr.Data)
		if lr.ID != excludeID && data[column] != nil && validation.Key(data[column]) == key {
			return true, nil
		}
	}
	return false, nil
}
