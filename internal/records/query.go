package records

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"minicrm/internal/model"
	"minicrm/internal/relation"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

type SortKey struct {
	Field string
	Desc  bool
}

// Cond is one field__op=value filter.
type Cond struct {
	Field string
	Op    string // eq, ne, in, gt, gte, lt, lte, contains
	Vals  []string
}

type ListOptions struct {
	IDs       []string
	Q         string
	Conds     []Cond
	RefColumn string // reference column that must contain RefID
	RefID     string
	Sort      []SortKey
	Nulls     string // "last" (default) | "first"
	Limit     int
	Offset    int
}

// служебные ключи query-строки, не являющиеся фильтрами
var reservedKeys = map[string]bool{
	"q": true, "ids": true, "ref": true, "ref_id": true, "expand": true,
	"limit": true, "offset": true, "sort": true, "nulls": true,
	"_limit": true, "_offset": true, "_sort": true,
}

// ParseListOptions reads listing parameters from a query string:
//
//	?q=ada&status__in=Active,Lead&age__gte=18&sort=-age,name&limit=20&offset=40
//	?ref=company&ref_id=01HX...
func ParseListOptions(q url.Values) ListOptions {
	opts := ListOptions{Limit: defaultLimit, Nulls: "last"}

	lv := firstOf(q, "_limit", "limit")
	if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= maxLimit {
		opts.Limit = n
	}
	ov := firstOf(q, "_offset", "offset")
	if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
		opts.Offset = n
	}

	for _, p := range strings.Split(firstOf(q, "_sort", "sort"), ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimLeft(p, "+-")
		if p != "" {
			opts.Sort = append(opts.Sort, SortKey{Field: p, Desc: desc})
		}
	}
	if strings.EqualFold(strings.TrimSpace(q.Get("nulls")), "first") {
		opts.Nulls = "first"
	}

	opts.Q = strings.TrimSpace(q.Get("q"))
	opts.IDs = splitList(q.Get("ids"))
	opts.RefColumn = strings.TrimSpace(q.Get("ref"))
	opts.RefID = strings.TrimSpace(q.Get("ref_id"))

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if reservedKeys[key] {
			continue
		}
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		field, op := key, "eq"
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, op = key[:i], key[i+2:]
		}
		vals := []string{v}
		if op == "in" {
			vals = splitList(v)
		}
		if field != "" && len(vals) > 0 {
			opts.Conds = append(opts.Conds, Cond{Field: field, Op: op, Vals: vals})
		}
	}
	return opts
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// match reports whether rec passes every filter of opts.
func match(t *model.Table, rec *model.Record, opts ListOptions, idSet map[string]bool) bool {
	if idSet != nil && !idSet[rec.ID] {
		return false
	}
	if opts.RefColumn != "" && !containsRef(rec.Data[opts.RefColumn], opts.RefID) {
		return false
	}
	for _, c := range opts.Conds {
		col, ok := t.Column(c.Field)
		if !ok {
			// неизвестное поле: не матчится
			return false
		}
		if !matchCond(col, rec.Data[c.Field], c) {
			return false
		}
	}
	if opts.Q != "" {
		needle := strings.ToLower(opts.Q)
		found := false
		for _, col := range t.Columns {
			if strings.Contains(strings.ToLower(relation.Text(rec.Data[col.Name])), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsRef(v any, id string) bool {
	switch t := v.(type) {
	case string:
		return t == id
	case []any:
		for _, x := range t {
			if cast.ToString(x) == id {
				return true
			}
		}
	}
	return false
}

func matchCond(col *model.Column, got any, c Cond) bool {
	if col.IsList {
		items, _ := got.([]any)
		switch c.Op {
		case "contains", "eq", "in":
			for _, it := range items {
				if matchScalar(col.DataType, it, Cond{Op: listOp(c.Op), Vals: c.Vals}) {
					return true
				}
			}
			return false
		case "ne":
			for _, it := range items {
				if matchScalar(col.DataType, it, Cond{Op: "eq", Vals: c.Vals}) {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	return matchScalar(col.DataType, got, c)
}

func listOp(op string) string {
	if op == "contains" {
		return "eq"
	}
	return op
}

func matchScalar(dt model.DataType, got any, c Cond) bool {
	want := c.Vals[0]
	switch c.Op {
	case "eq":
		return equalText(got, want)
	case "ne":
		return !equalText(got, want)
	case "in":
		for _, w := range c.Vals {
			if equalText(got, w) {
				return true
			}
		}
		return false
	case "contains":
		return strings.Contains(strings.ToLower(cast.ToString(got)), strings.ToLower(want))
	case "gt", "gte", "lt", "lte":
		cmp, ok := compareTyped(dt, got, want)
		if !ok {
			return false
		}
		switch c.Op {
		case "gt":
			return cmp > 0
		case "gte":
			return cmp >= 0
		case "lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equalText(got any, want string) bool {
	if got == nil {
		return want == "" || strings.EqualFold(want, "null")
	}
	return strings.EqualFold(relation.Text(got), want)
}

// compareTyped compares got with want in the column's domain: numbers numerically, dates
// and datetimes chronologically, everything else as text.
func compareTyped(dt model.DataType, got any, want string) (int, bool) {
	if got == nil {
		return 0, false
	}
	switch dt {
	case model.TypeInteger, model.TypeCurrency:
		g, err1 := cast.ToFloat64E(got)
		w, err2 := cast.ToFloat64E(strings.TrimSpace(want))
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmpFloat(g, w), true
	case model.TypeDate, model.TypeDatetime:
		layout := "2006-01-02"
		if dt == model.TypeDatetime {
			layout = time.RFC3339
		}
		g, err1 := time.Parse(layout, cast.ToString(got))
		w, err2 := time.Parse(layout, strings.TrimSpace(want))
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return g.Compare(w), true
	default:
		return strings.Compare(cast.ToString(got), want), true
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// sortRecords orders recs by the given keys with the nulls policy; id breaks ties.
func sortRecords(t *model.Table, recs []*model.Record, keys []SortKey, nulls string) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(t, recs[i], recs[j], k, nulls); c != 0 {
				return c < 0
			}
		}
		return recs[i].ID < recs[j].ID
	})
}

func cmpByKey(t *model.Table, a, b *model.Record, k SortKey, nulls string) int {
	va, vb := sortValue(a, k.Field), sortValue(b, k.Field)
	na, nb := va == nil, vb == nil
	if na && nb {
		return 0
	}
	if na != nb {
		// nulls не зависят от направления сортировки
		if (nulls == "first") == na {
			return -1
		}
		return 1
	}

	dt := model.TypeString
	if col, ok := t.Column(k.Field); ok && !col.IsList {
		dt = col.DataType
	}
	var rel int
	switch dt {
	case model.TypeInteger, model.TypeCurrency:
		rel = cmpFloat(cast.ToFloat64(va), cast.ToFloat64(vb))
	case model.TypeBoolean:
		rel = cmpFloat(boolNum(cast.ToBool(va)), boolNum(cast.ToBool(vb)))
	default:
		rel = strings.Compare(strings.ToLower(relation.Text(va)), strings.ToLower(relation.Text(vb)))
	}
	if k.Desc {
		rel = -rel
	}
	return rel
}

func sortValue(r *model.Record, field string) any {
	switch field {
	case "id":
		return r.ID
	case "created_at":
		return r.CreatedAt.Format(time.RFC3339Nano)
	case "updated_at":
		return r.UpdatedAt.Format(time.RFC3339Nano)
	}
	return r.Data[field]
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
