package records

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/store"
	"minicrm/internal/validation"
)

func (s *Service) linkTable(sc *model.Schema, key string) (*model.LinkTable, error) {
	if l, ok := sc.LinkTableByID(key); ok {
		return l, nil
	}
	if l, ok := sc.LinkTableByName(key); ok {
		return l, nil
	}
	return nil, apperr.NotFound("link table", key)
}

func (s *Service) loadLink(ctx context.Context, l *model.LinkTable, id string) (*model.LinkRecord, error) {
	lr, err := s.repo.GetLinkRecord(ctx, l.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("link record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get link record %s/%s: %w", l.Name, id, err)
	}
	lr.Data = validation.Canonicalize(l.Columns, lr.Data)
	return lr, nil
}

func (s *Service) GetLink(ctx context.Context, linkKey, id string) (*model.LinkRecord, error) {
	l, err := s.linkTable(s.schemas.Current(), linkKey)
	if err != nil {
		return nil, err
	}
	return s.loadLink(ctx, l, id)
}

func (s *Service) ListLinks(ctx context.Context, linkKey string) ([]*model.LinkRecord, error) {
	l, err := s.linkTable(s.schemas.Current(), linkKey)
	if err != nil {
		return nil, err
	}
	links, err := s.repo.ListLinkRecords(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("list link records %s: %w", l.Name, err)
	}
	for _, lr := range links {
		lr.Data = validation.Canonicalize(l.Columns, lr.Data)
	}
	return links, nil
}

// CreateLink links fromID (a record of the link's "from" table) to toID. A pair can be
// linked only once.
func (s *Service) CreateLink(ctx context.Context, linkKey, fromID, toID string, data map[string]any) (*model.LinkRecord, error) {
	sc := s.schemas.Current()
	l, err := s.linkTable(sc, linkKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lk := &lookup{s: s, sc: sc}
	var errs []apperr.FieldError
	for _, end := range []struct{ field, table, id string }{
		{"from_record_id", l.FromTableID, fromID},
		{"to_record_id", l.ToTableID, toID},
	} {
		ok, err := lk.RecordExists(ctx, end.table, end.id)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, apperr.Ferr(apperr.CodeRefNotFound, end.field, fmt.Sprintf("Referenced record %q not found", end.id)))
		}
	}
	attrs, err := s.engine.Validate(ctx, lk, validation.Input{Schema: sc, OwnerID: l.ID, Columns: l.Columns, Data: data})
	if verr, ok := apperr.AsValidation(err); ok {
		errs = append(errs, verr.Fields...)
	} else if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, apperr.Invalid(errs...)
	}

	links, err := s.repo.ListLinkRecords(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("list link records %s: %w", l.Name, err)
	}
	for _, lr := range links {
		if lr.FromRecordID == fromID && lr.ToRecordID == toID {
			return nil, apperr.Conflict("link record", lr.ID, "records are already linked")
		}
	}

	now := s.now()
	lr := &model.LinkRecord{ID: model.NewID(), LinkTableID: l.ID, FromRecordID: fromID, ToRecordID: toID,
		Version: 1, Data: attrs, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.SaveLinkRecord(ctx, lr); err != nil {
		return nil, fmt.Errorf("save link record %s: %w", l.Name, err)
	}
	s.publish(notify.ActionCreateLinkRecord, "", l.Name, lr.ID)

	for _, end := range []struct{ tableID, ownerID, relatedID string }{
		{l.FromTableID, fromID, toID},
		{l.ToTableID, toID, fromID},
	} {
		if err := s.selectOn(ctx, sc, l, end.tableID, end.ownerID, end.relatedID); err != nil {
			return nil, err
		}
	}
	return lr, nil
}

// UpdateLink replaces the attributes of a link record. Endpoints are fixed.
func (s *Service) UpdateLink(ctx context.Context, linkKey, id string, data map[string]any, expectedVersion *int64) (*model.LinkRecord, error) {
	sc := s.schemas.Current()
	l, err := s.linkTable(sc, linkKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lr, err := s.loadLink(ctx, l, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("link record", lr.ID, lr.Version, expectedVersion); err != nil {
		return nil, err
	}
	attrs, err := s.engine.Validate(ctx, &lookup{s: s, sc: sc}, validation.Input{
		Schema: sc, OwnerID: l.ID, Columns: l.Columns, Data: data, ExcludeID: lr.ID,
	})
	if err != nil {
		return nil, err
	}
	lr.Data = attrs
	lr.Version++
	lr.UpdatedAt = s.now()
	if err := s.repo.SaveLinkRecord(ctx, lr); err != nil {
		return nil, fmt.Errorf("save link record %s: %w", l.Name, err)
	}
	s.publish(notify.ActionUpdateLinkRecord, "", l.Name, lr.ID)
	return lr, nil
}

// DeleteLink removes a link record and strips the related id from the reference columns
// of both endpoint records.
func (s *Service) DeleteLink(ctx context.Context, linkKey, id string) error {
	sc := s.schemas.Current()
	l, err := s.linkTable(sc, linkKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lr, err := s.loadLink(ctx, l, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteLinkRecord(ctx, l.ID, id); err != nil {
		return fmt.Errorf("delete link record %s/%s: %w", l.Name, id, err)
	}
	s.publish(notify.ActionDeleteLinkRecord, "", l.Name, id)

	for _, end := range []struct{ tableID, ownerID, relatedID string }{
		{l.FromTableID, lr.FromRecordID, lr.ToRecordID},
		{l.ToTableID, lr.ToRecordID, lr.FromRecordID},
	} {
		if err := s.unselect(ctx, sc, l, end.tableID, end.ownerID, end.relatedID); err != nil {
			return err
		}
	}
	return nil
}

// unselect drops relatedID from ownerID's reference column that resolves through l.
func (s *Service) unselect(ctx context.Context, sc *model.Schema, l *model.LinkTable, tableID, ownerID, relatedID string) error {
	return s.editSelection(ctx, sc, l, tableID, ownerID, func(_ *model.Column, v any) (any, bool) {
		return without(v, relatedID)
	})
}

// selectOn adds relatedID to ownerID's reference column that resolves through l. A single
// valued column is filled only while empty. Self links are left alone: both columns sit on
// one table and the side cannot be told from the column.
func (s *Service) selectOn(ctx context.Context, sc *model.Schema, l *model.LinkTable, tableID, ownerID, relatedID string) error {
	if l.FromTableID == l.ToTableID {
		return nil
	}
	return s.editSelection(ctx, sc, l, tableID, ownerID, func(c *model.Column, v any) (any, bool) {
		return with(v, relatedID, c.IsList)
	})
}

func (s *Service) editSelection(ctx context.Context, sc *model.Schema, l *model.LinkTable, tableID, ownerID string, edit func(*model.Column, any) (any, bool)) error {
	t, ok := sc.TableByID(tableID)
	if !ok {
		return nil
	}
	for _, c := range t.Columns {
		if c.DataType != model.TypeReference || c.ReferenceLinkTableID != l.ID {
			continue
		}
		rec, err := s.load(ctx, t, ownerID)
		if apperr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		v, changed := edit(c, rec.Data[c.Name])
		if !changed {
			return nil
		}
		rec.Data[c.Name] = v
		rec.Version++
		rec.UpdatedAt = s.now()
		if err := s.repo.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("save record %s: %w", t.Name, err)
		}
		s.publish(notify.ActionUpdate, t.Name, "", rec.ID)
		return nil
	}
	return nil
}

func with(v any, id string, list bool) (any, bool) {
	if !list {
		if cur, ok := v.(string); ok && cur != "" {
			return v, false
		}
		return id, true
	}
	items, _ := v.([]any)
	if slices.Contains(items, any(id)) {
		return v, false
	}
	return append(slices.Clone(items), id), true
}
