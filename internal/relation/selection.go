package relation

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Selection is a parsed reference value: ordered related ids plus the attribute sets the
// client sent with them. Attributes has an entry only for ids whose attributes were given.
type Selection struct {
	IDs        []string
	Attributes map[string]map[string]any
}

// ParseSelection accepts an id, a list of ids, an {id, attributes} object or a list of such
// objects. A single-valued column may select at most one id.
func ParseSelection(v any, isList bool) (Selection, error) {
	sel := Selection{Attributes: map[string]map[string]any{}}
	var items []any
	switch t := v.(type) {
	case nil:
		return sel, nil
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	default:
		items = []any{t}
	}
	if !isList && len(items) > 1 {
		return sel, fmt.Errorf("expects a single reference, got %d", len(items))
	}

	seen := make(map[string]bool, len(items))
	for i, it := range items {
		id, attrs, err := parseItem(it)
		if err != nil {
			return sel, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[id] {
			return sel, fmt.Errorf("item %d: duplicate reference %q", i, id)
		}
		seen[id] = true
		sel.IDs = append(sel.IDs, id)
		if attrs != nil {
			sel.Attributes[id] = attrs
		}
	}
	return sel, nil
}

func parseItem(it any) (string, map[string]any, error) {
	switch t := it.(type) {
	case string:
		id := strings.TrimSpace(t)
		if id == "" {
			return "", nil, fmt.Errorf("empty reference id")
		}
		return id, nil, nil
	case map[string]any:
		id := strings.TrimSpace(cast.ToString(t["id"]))
		if id == "" {
			return "", nil, fmt.Errorf("reference object needs an id")
		}
		raw, ok := t["attributes"]
		if !ok || raw == nil {
			return id, nil, nil
		}
		attrs, err := cast.ToStringMapE(raw)
		if err != nil {
			return "", nil, fmt.Errorf("attributes of %q must be an object", id)
		}
		return id, attrs, nil
	default:
		return "", nil, fmt.Errorf("unsupported reference value %T", it)
	}
}

// Value is the form stored in the record: an id for single columns, a list for list columns.
func (s Selection) Value(isList bool) any {
	if isList {
		out := make([]any, len(s.IDs))
		for i, id := range s.IDs {
			out[i] = id
		}
		return out
	}
	if len(s.IDs) == 0 {
		return nil
	}
	return s.IDs[0]
}
