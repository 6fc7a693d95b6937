package relation

import (
	"context"
	"errors"
	"fmt"

	"minicrm/internal/model"
	"minicrm/internal/store"
)

// Side describes how a reference column reaches the other table.
type Side struct {
	Link        *model.LinkTable
	Other       *model.Table
	OwnerIsFrom bool
}

// SideOf resolves col, a reference column of ownerTableID.
func SideOf(sc *model.Schema, col *model.Column, ownerTableID string) (Side, error) {
	l, ok := sc.LinkTableByID(col.ReferenceLinkTableID)
	if !ok {
		return Side{}, fmt.Errorf("column %s: link table %q not found", col.Name, col.ReferenceLinkTableID)
	}
	if !l.Touches(ownerTableID) {
		return Side{}, fmt.Errorf("column %s: link table %s does not include the owning table", col.Name, l.Name)
	}
	otherID, fromSide := l.Other(ownerTableID)
	other, ok := sc.TableByID(otherID)
	if !ok {
		return Side{}, fmt.Errorf("column %s: table %q not found", col.Name, otherID)
	}
	return Side{Link: l, Other: other, OwnerIsFrom: fromSide}, nil
}

// Pair orders owner and related ids as (from, to) for this side.
func (s Side) Pair(ownerID, relatedID string) (string, string) {
	if s.OwnerIsFrom {
		return ownerID, relatedID
	}
	return relatedID, ownerID
}

// Related returns the id on the other side of lr, and whether lr belongs to ownerID at all.
func (s Side) Related(lr *model.LinkRecord, ownerID string) (string, bool) {
	if s.OwnerIsFrom {
		return lr.ToRecordID, lr.FromRecordID == ownerID
	}
	return lr.FromRecordID, lr.ToRecordID == ownerID
}

// Reader is the read access Resolve needs.
type Reader interface {
	GetRecord(ctx context.Context, tableID, id string) (*model.Record, error)
	ListLinkRecords(ctx context.Context, linkTableID string) ([]*model.LinkRecord, error)
}

type Related struct {
	ID                    string         `json:"id"`
	Table                 string         `json:"table"`
	DisplayValue          string         `json:"display_value"`
	DisplayValueSecondary string         `json:"display_value_secondary"`
	LinkRecordID          string         `json:"link_record_id,omitempty"`
	Attributes            map[string]any `json:"attributes"`
}

// Resolve expands every reference column of rec into the related records: the ids stored
// in the column first, then ids linked only through link records, in link record order.
// Ids whose record no longer exists are skipped.
func Resolve(ctx context.Context, r Reader, sc *model.Schema, t *model.Table, rec *model.Record) (map[string][]Related, error) {
	out := map[string][]Related{}
	linkCache := map[string][]*model.LinkRecord{}

	for _, col := range t.Columns {
		if col.DataType != model.TypeReference {
			continue
		}
		side, err := SideOf(sc, col, t.ID)
		if err != nil {
			out[col.Name] = []Related{}
			continue
		}
		var ids []string
		if sel, err := ParseSelection(rec.Data[col.Name], true); err == nil {
			ids = sel.IDs
		}

		links, ok := linkCache[side.Link.ID]
		if !ok {
			links, err = r.ListLinkRecords(ctx, side.Link.ID)
			if err != nil {
				return nil, fmt.Errorf("list link records %s: %w", side.Link.Name, err)
			}
			linkCache[side.Link.ID] = links
		}
		byRelated := map[string]*model.LinkRecord{}
		listed := make(map[string]bool, len(ids))
		for _, id := range ids {
			listed[id] = true
		}
		for _, lr := range links {
			if rel, mine := side.Related(lr, rec.ID); mine {
				byRelated[rel] = lr
				// связи, созданные с другой стороны, добавляем после выбранных
				if !listed[rel] {
					listed[rel] = true
					ids = append(ids, rel)
				}
			}
		}

		items := make([]Related, 0, len(ids))
		for _, id := range ids {
			other, err := r.GetRecord(ctx, side.Other.ID, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get related %s/%s: %w", side.Other.Name, id, err)
			}
			primary, secondary := Display(side.Other, other.ID, other.Data)
			item := Related{ID: id, Table: side.Other.Name, DisplayValue: primary, DisplayValueSecondary: secondary,
				Attributes: map[string]any{}}
			if lr := byRelated[id]; lr != nil {
				item.LinkRecordID = lr.ID
				item.Attributes = model.CloneData(lr.Data)
			}
			items = append(items, item)
		}
		out[col.Name] = items
	}
	return out, nil
}
