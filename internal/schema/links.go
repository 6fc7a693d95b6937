package schema

import (
	"context"
	"strings"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
)

type LinkTablePatch struct {
	Name        *string `json:"name"`
	FromTableID *string `json:"from_table_id"`
	ToTableID   *string `json:"to_table_id"`
}

func (s *Service) CreateLinkTable(ctx context.Context, name, fromTableID, toTableID string) (*model.LinkTable, error) {
	name, err := checkName("link table", name)
	if err != nil {
		return nil, err
	}
	var created *model.LinkTable
	err = s.mutate(func(next *model.Schema) (notify.Event, error) {
		if err := checkEndpoints(next, fromTableID, toTableID); err != nil {
			return notify.Event{}, err
		}
		if _, ok := findLinkExact(next, name); ok {
			return notify.Event{}, apperr.Duplicate("link table", name)
		}
		now := s.now()
		l := &model.LinkTable{
			ID:          model.NewID(),
			Name:        name,
			FromTableID: fromTableID,
			ToTableID:   toTableID,
			Columns:     []*model.Column{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.SaveLinkTable(ctx, l); err != nil {
			return notify.Event{}, wrapRepo("save link table", err)
		}
		next.LinkTables = append(next.LinkTables, l)
		created = l.Clone()
		ev := notify.SchemaEvent(notify.ActionCreateLinkTable)
		ev.LinkTable = l.Name
		return ev, nil
	})
	return created, err
}

// UpdateLinkTable renames or re-points a link table. Endpoints are frozen while link
// records exist or while a reference column would lose its side.
func (s *Service) UpdateLinkTable(ctx context.Context, id string, p LinkTablePatch) (*model.LinkTable, error) {
	var updated *model.LinkTable
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		l, ok := next.LinkTableByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("link table", id)
		}
		if p.Name != nil {
			name, err := checkName("link table", *p.Name)
			if err != nil {
				return notify.Event{}, err
			}
			if other, ok := findLinkExact(next, name); ok && other.ID != id {
				return notify.Event{}, apperr.Duplicate("link table", name)
			}
			l.Name = name
		}

		from, to := l.FromTableID, l.ToTableID
		if p.FromTableID != nil {
			from = *p.FromTableID
		}
		if p.ToTableID != nil {
			to = *p.ToTableID
		}
		if from != l.FromTableID || to != l.ToTableID {
			if err := checkEndpoints(next, from, to); err != nil {
				return notify.Event{}, err
			}
			n, err := s.repo.CountLinkRecords(ctx, id)
			if err != nil {
				return notify.Event{}, wrapRepo("count link records", err)
			}
			if n > 0 {
				return notify.Event{}, apperr.Conflict("link table", l.Name, "endpoints cannot change while link records exist")
			}
			for _, rc := range referenceColumns(next, id) {
				if rc.TableID != from && rc.TableID != to {
					return notify.Event{}, apperr.Conflict("link table", l.Name, "reference column "+rc.Name+" would lose its side")
				}
			}
			l.FromTableID, l.ToTableID = from, to
		}

		l.UpdatedAt = s.now()
		if err := s.repo.SaveLinkTable(ctx, l); err != nil {
			return notify.Event{}, wrapRepo("save link table", err)
		}
		updated = l.Clone()
		ev := notify.SchemaEvent(notify.ActionUpdateLinkTable)
		ev.LinkTable = l.Name
		return ev, nil
	})
	return updated, err
}

// DeleteLinkTable is rejected while reference columns name it or link records exist.
func (s *Service) DeleteLinkTable(ctx context.Context, id string) error {
	return s.mutate(func(next *model.Schema) (notify.Event, error) {
		l, ok := next.LinkTableByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("link table", id)
		}
		if refs := referenceColumns(next, id); len(refs) > 0 {
			return notify.Event{}, apperr.Conflict("link table", l.Name, "used by reference column "+refs[0].Name)
		}
		n, err := s.repo.CountLinkRecords(ctx, id)
		if err != nil {
			return notify.Event{}, wrapRepo("count link records", err)
		}
		if n > 0 {
			return notify.Event{}, apperr.Conflict("link table", l.Name, "link table holds link records")
		}
		if err := s.repo.DeleteLinkTable(ctx, id); err != nil {
			return notify.Event{}, wrapRepo("delete link table", err)
		}
		for i, x := range next.LinkTables {
			if x.ID == id {
				next.LinkTables = append(next.LinkTables[:i], next.LinkTables[i+1:]...)
				break
			}
		}
		ev := notify.SchemaEvent(notify.ActionDeleteLinkTable)
		ev.LinkTable = l.Name
		return ev, nil
	})
}

func checkEndpoints(sc *model.Schema, from, to string) error {
	var errs []apperr.FieldError
	if _, ok := sc.TableByID(from); !ok {
		errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "from_table_id", "table "+from+" does not exist"))
	}
	if _, ok := sc.TableByID(to); !ok {
		errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "to_table_id", "table "+to+" does not exist"))
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs...)
	}
	return nil
}

// referenceColumns lists the table columns that resolve through link table id.
func referenceColumns(sc *model.Schema, id string) []*model.Column {
	var out []*model.Column
	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			if c.DataType == model.TypeReference && c.ReferenceLinkTableID == id {
				out = append(out, c)
			}
		}
	}
	return out
}

func findLinkExact(sc *model.Schema, name string) (*model.LinkTable, bool) {
	for _, l := range sc.LinkTables {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return nil, false
}
