package reference

import (
	"sort"
	"strings"
)

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code string `yaml:"code"`
	// Подпись для людей; в схеме хранится только code
	Name  string `yaml:"name,omitempty"`
	Order int    `yaml:"order,omitempty"`
}

// Values returns the item codes ordered by Order, keeping file order for ties.
func (d EnumDirectory) Values() []string {
	items := make([]EnumItem, 0, len(d.Items))
	for _, it := range d.Items {
		if strings.TrimSpace(it.Code) != "" {
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = strings.TrimSpace(it.Code)
	}
	return out
}
