// internal/schema/lint.go
package schema

import (
	"fmt"

	"minicrm/internal/model"
	"minicrm/internal/relation"
)

type Issue struct {
	Owner   string `json:"owner"` // table or link table name
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint ищет противоречия в текущей схеме. Пустой список означает, что схема согласована.
func (s *Service) Lint() []Issue {
	sc := s.Current()
	var issues []Issue

	check := func(ownerName string, ownerTableID string, c *model.Column) {
		switch {
		case c.DataType.NeedsEnum():
			if _, ok := sc.EnumByID(c.EnumID); !ok {
				issues = append(issues, Issue{Owner: ownerName, Field: c.Name, Code: "enum_missing",
					Message: fmt.Sprintf("%s column refers to missing enum %q", c.DataType, c.EnumID)})
			}
		case c.DataType == model.TypeReference:
			l, ok := sc.LinkTableByID(c.ReferenceLinkTableID)
			if !ok {
				issues = append(issues, Issue{Owner: ownerName, Field: c.Name, Code: "link_table_missing",
					Message: fmt.Sprintf("reference column names missing link table %q", c.ReferenceLinkTableID)})
				return
			}
			if ownerTableID == "" {
				issues = append(issues, Issue{Owner: ownerName, Field: c.Name, Code: "reference_on_link",
					Message: "reference columns are not allowed on link tables"})
				return
			}
			if !l.Touches(ownerTableID) {
				issues = append(issues, Issue{Owner: ownerName, Field: c.Name, Code: "link_table_foreign",
					Message: fmt.Sprintf("link table %s does not include %s", l.Name, ownerName)})
			}
		}
	}

	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			check(t.Name, t.ID, c)
		}
		for _, f := range []struct{ field, format string }{
			{"display_format", t.DisplayFormat},
			{"display_format_secondary", t.DisplayFormatSecondary},
		} {
			for _, p := range relation.Placeholders(f.format) {
				if _, ok := t.Column(p); !ok {
					issues = append(issues, Issue{Owner: t.Name, Field: f.field, Code: "placeholder_unknown",
						Message: fmt.Sprintf("placeholder {%s} names no column", p)})
				}
			}
		}
	}

	for _, l := range sc.LinkTables {
		for _, end := range []struct{ field, id string }{{"from_table_id", l.FromTableID}, {"to_table_id", l.ToTableID}} {
			if _, ok := sc.TableByID(end.id); !ok {
				issues = append(issues, Issue{Owner: l.Name, Field: end.field, Code: "table_missing",
					Message: fmt.Sprintf("endpoint table %q does not exist", end.id)})
			}
		}
		for _, c := range l.Columns {
			check(l.Name, "", c)
		}
	}
	return issues
}
