// Package relation resolves reference columns through their link tables and renders
// human-readable record labels.
package relation

import (
	"fmt"
	"regexp"
	"strings"

	"minicrm/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Placeholders returns the column names a display format refers to, in order.
func Placeholders(format string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(format, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// порядок имён колонок, из которых берём подпись, если формат не задан
var fallbackColumns = []string{"name", "title", "email", "code"}

// Render substitutes {column} placeholders with values from data. Missing values render
// empty and lists are joined with ", ".
func Render(format string, data map[string]any) string {
	out := placeholderRe.ReplaceAllStringFunc(format, func(m string) string {
		key := strings.TrimSpace(m[1 : len(m)-1])
		return Text(data[key])
	})
	return strings.TrimSpace(out)
}

// Display returns the primary and secondary labels of a record of t.
func Display(t *model.Table, id string, data map[string]any) (string, string) {
	primary := ""
	if t.DisplayFormat != "" {
		primary = Render(t.DisplayFormat, data)
	}
	if primary == "" {
		primary = fallback(t, id, data)
	}
	secondary := ""
	if t.DisplayFormatSecondary != "" {
		secondary = Render(t.DisplayFormatSecondary, data)
	}
	return primary, secondary
}

func fallback(t *model.Table, id string, data map[string]any) string {
	for _, name := range fallbackColumns {
		if s := Text(data[name]); s != "" {
			return s
		}
	}
	for _, c := range t.Columns {
		if c.DataType != model.TypeString || c.IsList {
			continue
		}
		if s := Text(data[c.Name]); s != "" {
			return s
		}
	}
	return id
}

// Text renders a stored value as plain text.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if s := Text(x); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(t, ", ")
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}
