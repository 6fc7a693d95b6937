package schema

import (
	"context"
	"strings"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
)

func (s *Service) CreateEnum(ctx context.Context, name string, values []string) (*model.Enum, error) {
	name, err := checkName("enum", name)
	if err != nil {
		return nil, err
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, apperr.Invalid(apperr.Ferr(apperr.CodeRequired, "values", "enum values must not be empty"))
		}
		for _, x := range clean {
			if x == v {
				return nil, apperr.Duplicate("enum value", v)
			}
		}
		clean = append(clean, v)
	}

	var created *model.Enum
	err = s.mutate(func(next *model.Schema) (notify.Event, error) {
		if _, ok := next.EnumByName(name); ok {
			return notify.Event{}, apperr.Duplicate("enum", name)
		}
		now := s.now()
		e := &model.Enum{ID: model.NewID(), Name: name, Values: clean, CreatedAt: now, UpdatedAt: now}
		if err := s.repo.SaveEnum(ctx, e); err != nil {
			return notify.Event{}, wrapRepo("save enum", err)
		}
		next.Enums = append(next.Enums, e)
		created = e.Clone()
		ev := notify.SchemaEvent(notify.ActionCreateEnum)
		ev.Enum = e.Name
		return ev, nil
	})
	return created, err
}

func (s *Service) AddEnumValue(ctx context.Context, id, value string) (*model.Enum, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, apperr.Invalid(apperr.Ferr(apperr.CodeRequired, "value", "enum value is required"))
	}
	var updated *model.Enum
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		e, ok := next.EnumByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("enum", id)
		}
		if e.Has(value) {
			return notify.Event{}, apperr.Duplicate("enum value", value)
		}
		e.Values = append(e.Values, value)
		e.UpdatedAt = s.now()
		if err := s.repo.SaveEnum(ctx, e); err != nil {
			return notify.Event{}, wrapRepo("save enum", err)
		}
		updated = e.Clone()
		ev := notify.SchemaEvent(notify.ActionAddEnumValue)
		ev.Enum, ev.Value = e.Name, value
		return ev, nil
	})
	return updated, err
}

// RemoveEnumValue drops value from the enum. Records already holding it keep it until
// they are next written, at which point validation rejects it.
func (s *Service) RemoveEnumValue(ctx context.Context, id, value string) (*model.Enum, error) {
	var updated *model.Enum
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		e, ok := next.EnumByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("enum", id)
		}
		idx := -1
		for i, v := range e.Values {
			if v == value {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notify.Event{}, apperr.NotFound("enum value", value)
		}
		e.Values = append(e.Values[:idx], e.Values[idx+1:]...)
		e.UpdatedAt = s.now()
		if err := s.repo.SaveEnum(ctx, e); err != nil {
			return notify.Event{}, wrapRepo("save enum", err)
		}
		updated = e.Clone()
		ev := notify.SchemaEvent(notify.ActionRemoveEnumValue)
		ev.Enum, ev.Value = e.Name, value
		return ev, nil
	})
	return updated, err
}

// DeleteEnum is rejected while any column still draws values from it.
func (s *Service) DeleteEnum(ctx context.Context, id string) error {
	return s.mutate(func(next *model.Schema) (notify.Event, error) {
		e, ok := next.EnumByID(id)
		if !ok {
			return notify.Event{}, apperr.NotFound("enum", id)
		}
		if col, o, found := enumUser(next, id); found {
			return notify.Event{}, apperr.Conflict("enum", e.Name, "used by column "+o.name()+"."+col.Name)
		}
		if err := s.repo.DeleteEnum(ctx, id); err != nil {
			return notify.Event{}, wrapRepo("delete enum", err)
		}
		for i, x := range next.Enums {
			if x.ID == id {
				next.Enums = append(next.Enums[:i], next.Enums[i+1:]...)
				break
			}
		}
		ev := notify.SchemaEvent(notify.ActionDeleteEnum)
		ev.Enum = e.Name
		return ev, nil
	})
}

func enumUser(sc *model.Schema, enumID string) (*model.Column, owner, bool) {
	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			if c.EnumID == enumID {
				return c, owner{table: t}, true
			}
		}
	}
	for _, l := range sc.LinkTables {
		for _, c := range l.Columns {
			if c.EnumID == enumID {
				return c, owner{link: l}, true
			}
		}
	}
	return nil, owner{}, false
}
