package schema

import (
	"context"
	"strings"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
)

// TablePatch holds the optional fields of UpdateTable; nil means "leave unchanged".
type TablePatch struct {
	Name                   *string `json:"name"`
	DisplayFormat          *string `json:"display_format"`
	DisplayFormatSecondary *string `json:"display_format_secondary"`
}

func (s *Service) CreateTable(ctx context.Context, name, displayFormat, displayFormatSecondary string) (*model.Table, error) {
	name, err := checkName("table", name)
	if err != nil {
		return nil, err
	}
	var created *model.Table
	err = s.mutate(func(next *model.Schema) (notify.Event, error) {
		if _, ok := findTableExact(next, name); ok {
			return notify.Event{}, apperr.Duplicate("table", name)
		}
		now := s.now()
		t := &model.Table{
			ID:                     model.NewID(),
			Name:                   name,
			DisplayFormat:          strings.TrimSpace(displayFormat),
			DisplayFormatSecondary: strings.TrimSpace(displayFormatSecondary),
			Columns:                []*model.Column{},
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.repo.SaveTable(ctx, t); err != nil {
			return notify.Event{}, wrapRepo("save table", err)
		}
		next.Tables = append(next.Tables, t)
		created = t.Clone()
		ev := notify.SchemaEvent(notify.ActionCreateTable)
		ev.Table = t.Name
		return ev, nil
	})
	return created, err
}

func (s *Service) UpdateTable(ctx context.Context, id string, p TablePatch) (*model.Table, error) {
	var updated *model.Table
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		t, ok := next.TableByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("table", id)
		}
		if p.Name != nil {
			name, err := checkName("table", *p.Name)
			if err != nil {
				return notify.Event{}, err
			}
			if other, ok := findTableExact(next, name); ok && other.ID != id {
				return notify.Event{}, apperr.Duplicate("table", name)
			}
			t.Name = name
		}
		if p.DisplayFormat != nil {
			t.DisplayFormat = strings.TrimSpace(*p.DisplayFormat)
		}
		if p.DisplayFormatSecondary != nil {
			t.DisplayFormatSecondary = strings.TrimSpace(*p.DisplayFormatSecondary)
		}
		t.UpdatedAt = s.now()
		if err := s.repo.SaveTable(ctx, t); err != nil {
			return notify.Event{}, wrapRepo("save table", err)
		}
		updated = t.Clone()
		ev := notify.SchemaEvent(notify.ActionUpdateTable)
		ev.Table = t.Name
		return ev, nil
	})
	return updated, err
}

// DeleteTable removes the table with its columns. Rejected while link tables point at it
// or records exist.
func (s *Service) DeleteTable(ctx context.Context, id string) error {
	return s.mutate(func(next *model.Schema) (notify.Event, error) {
		t, ok := next.TableByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("table", id)
		}
		for _, l := range next.LinkTables {
			if l.Touches(id) {
				return notify.Event{}, apperr.Conflict("table", t.Name, "referenced by link table "+l.Name)
			}
		}
		n, err := s.repo.CountRecords(ctx, id)
		if err != nil {
			return notify.Event{}, wrapRepo("count records", err)
		}
		if n > 0 {
			return notify.Event{}, apperr.Conflict("table", t.Name, "table has records")
		}
		if err := s.repo.DeleteTable(ctx, id); err != nil {
			return notify.Event{}, wrapRepo("delete table", err)
		}
		for i, x := range next.Tables {
			if x.ID == id {
				next.Tables = append(next.Tables[:i], next.Tables[i+1:]...)
				break
			}
		}
		ev := notify.SchemaEvent(notify.ActionDeleteTable)
		ev.Table = t.Name
		return ev, nil
	})
}

// уникальность имени таблицы: без учёта регистра
func findTableExact(sc *model.Schema, name string) (*model.Table, bool) {
	for _, t := range sc.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}
