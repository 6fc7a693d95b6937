package schema

import (
	"context"
	"strings"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
)

// ColumnSpec is the client-supplied definition of a column.
type ColumnSpec struct {
	Name                 string `json:"name" binding:"required"`
	DataType             string `json:"data_type" binding:"required"`
	Required             bool   `json:"required"`
	Unique               bool   `json:"unique"`
	Searchable           bool   `json:"searchable"`
	IsList               bool   `json:"is_list"`
	Constraints          string `json:"constraints"`
	EnumID               string `json:"enum_id"`
	ReferenceLinkTableID string `json:"reference_link_table_id"`
}

type owner struct {
	table *model.Table
	link  *model.LinkTable
}

func (o owner) columns() *[]*model.Column {
	if o.link != nil {
		return &o.link.Columns
	}
	return &o.table.Columns
}

func (o owner) name() string {
	if o.link != nil {
		return o.link.Name
	}
	return o.table.Name
}

func (s *Service) AddColumn(ctx context.Context, tableID string, spec ColumnSpec) (*model.Column, error) {
	return s.addColumn(ctx, tableID, false, spec)
}

// AddLinkColumn adds a relationship attribute. Reference columns are not allowed here.
func (s *Service) AddLinkColumn(ctx context.Context, linkTableID string, spec ColumnSpec) (*model.Column, error) {
	return s.addColumn(ctx, linkTableID, true, spec)
}

func (s *Service) addColumn(ctx context.Context, ownerID string, onLink bool, spec ColumnSpec) (*model.Column, error) {
	var created *model.Column
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		o, err := findOwner(next, ownerID, onLink)
		if err != nil {
			return notify.Event{}, err
		}
		col := &model.Column{ID: model.NewID()}
		if err := s.applySpec(next, o, col, spec); err != nil {
			return notify.Event{}, err
		}
		if dup := columnByName(*o.columns(), col.Name); dup != nil {
			return notify.Event{}, apperr.Duplicate("column", col.Name)
		}
		now := s.now()
		col.CreatedAt, col.UpdatedAt = now, now
		if err := s.repo.SaveColumn(ctx, col); err != nil {
			return notify.Event{}, wrapRepo("save column", err)
		}
		cols := o.columns()
		*cols = append(*cols, col)
		created = col.Clone()
		return columnEvent(o, col, notify.ActionCreateColumn, notify.ActionCreateLinkColumn), nil
	})
	return created, err
}

// UpdateColumn redefines a table or link column. The data type cannot change while the
// owner holds rows.
func (s *Service) UpdateColumn(ctx context.Context, id string, spec ColumnSpec) (*model.Column, error) {
	var updated *model.Column
	err := s.mutate(func(next *model.Schema) (notify.Event, error) {
		col, o, err := findColumn(next, id)
		if err != nil {
			return notify.Event{}, err
		}
		before := *col
		if err := s.applySpec(next, o, col, spec); err != nil {
			return notify.Event{}, err
		}
		if dup := columnByName(*o.columns(), col.Name); dup != nil && dup.ID != col.ID {
			return notify.Event{}, apperr.Duplicate("column", col.Name)
		}
		if col.DataType != before.DataType || col.IsList != before.IsList {
			n, err := s.countRows(ctx, o)
			if err != nil {
				return notify.Event{}, err
			}
			if n > 0 {
				return notify.Event{}, apperr.Conflict("column", before.Name, "data type cannot change while rows exist")
			}
		}
		if o.table != nil && col.Name != before.Name &&
			(usesPlaceholder(o.table.DisplayFormat, before.Name) || usesPlaceholder(o.table.DisplayFormatSecondary, before.Name)) {
			return notify.Event{}, apperr.Conflict("column", before.Name, "referenced by display format of "+o.table.Name)
		}
		col.UpdatedAt = s.now()
		if err := s.repo.SaveColumn(ctx, col); err != nil {
			return notify.Event{}, wrapRepo("save column", err)
		}
		updated = col.Clone()
		return columnEvent(o, col, notify.ActionUpdateColumn, notify.ActionUpdateLinkColumn), nil
	})
	return updated, err
}

// DeleteColumn drops a column definition. Stored values are left in place.
func (s *Service) DeleteColumn(ctx context.Context, id string) error {
	return s.mutate(func(next *model.Schema) (notify.Event, error) {
		col, o, err := findColumn(next, id)
		if err != nil {
			return notify.Event{}, err
		}
		if o.table != nil {
			if usesPlaceholder(o.table.DisplayFormat, col.Name) || usesPlaceholder(o.table.DisplayFormatSecondary, col.Name) {
				return notify.Event{}, apperr.Conflict("column", col.Name, "referenced by display format of "+o.table.Name)
			}
			if col.DataType == model.TypeReference && col.ReferenceLinkTableID != "" {
				n, err := s.repo.CountLinkRecords(ctx, col.ReferenceLinkTableID)
				if err != nil {
					return notify.Event{}, wrapRepo("count link records", err)
				}
				if n > 0 {
					return notify.Event{}, apperr.Conflict("column", col.Name, "link table holds link records")
				}
			}
		}
		if err := s.repo.DeleteColumn(ctx, id); err != nil {
			return notify.Event{}, wrapRepo("delete column", err)
		}
		cols := o.columns()
		for i, c := range *cols {
			if c.ID == id {
				*cols = append((*cols)[:i], (*cols)[i+1:]...)
				break
			}
		}
		return columnEvent(o, col, notify.ActionDeleteColumn, notify.ActionDeleteLinkColumn), nil
	})
}

// applySpec validates spec against the snapshot and copies it onto col. All field
// problems are reported together.
func (s *Service) applySpec(sc *model.Schema, o owner, col *model.Column, spec ColumnSpec) error {
	var errs []apperr.FieldError
	name := strings.TrimSpace(spec.Name)
	switch {
	case name == "":
		errs = append(errs, apperr.Ferr(apperr.CodeRequired, "name", "column name is required"))
	case !identRe.MatchString(name):
		errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "name", "column name must be an identifier"))
	}

	dt, ok := model.ParseDataType(spec.DataType)
	if !ok {
		errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "data_type", "unknown data type "+spec.DataType))
	}

	enumID := ""
	refID := ""
	switch {
	case !ok:
	case dt.NeedsEnum():
		enumID = strings.TrimSpace(spec.EnumID)
		if enumID == "" {
			errs = append(errs, apperr.Ferr(apperr.CodeRequired, "enum_id", string(dt)+" column needs enum_id"))
		} else if _, found := sc.EnumByID(enumID); !found {
			errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "enum_id", "enum "+enumID+" does not exist"))
		}
	case dt == model.TypeReference:
		refID = strings.TrimSpace(spec.ReferenceLinkTableID)
		switch {
		case o.link != nil:
			errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "data_type", "reference columns are not allowed on link tables"))
		case refID == "":
			errs = append(errs, apperr.Ferr(apperr.CodeRequired, "reference_link_table_id", "reference column needs reference_link_table_id"))
		default:
			l, found := sc.LinkTableByID(refID)
			if !found {
				errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "reference_link_table_id", "link table "+refID+" does not exist"))
			} else if !l.Touches(o.table.ID) {
				errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "reference_link_table_id",
					"link table "+l.Name+" does not include table "+o.table.Name))
			} else {
				// одна ссылочная колонка на связку в пределах таблицы
				for _, c := range o.table.Columns {
					if c.ID != col.ID && c.DataType == model.TypeReference && c.ReferenceLinkTableID == refID {
						errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "reference_link_table_id",
							"link table "+l.Name+" is already used by column "+c.Name))
						break
					}
				}
			}
		}
	}

	constraints := strings.TrimSpace(spec.Constraints)
	if ok && constraints != "" {
		if err := s.engine.CheckExpression(constraints, dt); err != nil {
			errs = append(errs, apperr.Ferr(apperr.CodeInvalid, "constraints", err.Error()))
		}
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs...)
	}

	col.Name = name
	col.DataType = dt
	col.Required = spec.Required
	col.Unique = spec.Unique
	col.Searchable = spec.Searchable
	col.IsList = spec.IsList
	col.Constraints = constraints
	col.EnumID = enumID
	col.ReferenceLinkTableID = refID
	if o.link != nil {
		col.LinkTableID, col.TableID = o.link.ID, ""
	} else {
		col.TableID, col.LinkTableID = o.table.ID, ""
	}
	return nil
}

func (s *Service) countRows(ctx context.Context, o owner) (int, error) {
	if o.link != nil {
		n, err := s.repo.CountLinkRecords(ctx, o.link.ID)
		if err != nil {
			return 0, wrapRepo("count link records", err)
		}
		return n, nil
	}
	n, err := s.repo.CountRecords(ctx, o.table.ID)
	if err != nil {
		return 0, wrapRepo("count records", err)
	}
	return n, nil
}

func findOwner(sc *model.Schema, id string, onLink bool) (owner, error) {
	if onLink {
		l, ok := sc.LinkTableByID(id)
		if !ok {
			return owner{}, apperr.NotFound("link table", id)
		}
		return owner{link: l}, nil
	}
	t, ok := sc.TableByID(id)
	if !ok {
		return owner{}, apperr.NotFound("table", id)
	}
	return owner{table: t}, nil
}

func findColumn(sc *model.Schema, id string) (*model.Column, owner, error) {
	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			if c.ID == id {
				return c, owner{table: t}, nil
			}
		}
	}
	for _, l := range sc.LinkTables {
		for _, c := range l.Columns {
			if c.ID == id {
				return c, owner{link: l}, nil
			}
		}
	}
	return nil, owner{}, apperr.NotFound("column", id)
}

func columnByName(cols []*model.Column, name string) *model.Column {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func columnEvent(o owner, col *model.Column, tableAction, linkAction string) notify.Event {
	if o.link != nil {
		ev := notify.SchemaEvent(linkAction)
		ev.LinkTable = o.name()
		ev.Column = col.Name
		return ev
	}
	ev := notify.SchemaEvent(tableAction)
	ev.Table = o.name()
	ev.Column = col.Name
	return ev
}
