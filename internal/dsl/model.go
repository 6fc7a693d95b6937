package dsl

// File is one parsed schema document.
type File struct {
	Enums    []EnumDecl
	Entities []*Entity
}

// EnumDecl объявляет enum прямо в DSL: `enum Status: lead, customer`
type EnumDecl struct {
	Name   string
	Values []string
}

const (
	KindTable = "table"
	KindLink  = "link"
)

// Entity описывает таблицу или link-таблицу из DSL
type Entity struct {
	Kind string
	Name string
	// только для link
	From string
	To   string

	Display          string
	DisplaySecondary string
	Fields           []Field
	Line             int
}

// Field описывает колонку
type Field struct {
	Name      string
	Type      string            // string, integer, currency, boolean, date, datetime, enum, picklist, reference
	List      bool              // array[...]
	Enum      string            // имя enum для enum[...] / picklist[...]
	RefTarget string            // имя link-таблицы для ref[...]
	Options   map[string]string // required, unique, searchable, check=...
	Line      int
}

func (f Field) Flag(name string) bool {
	v, ok := f.Options[name]
	return ok && (v == "true" || v == "yes" || v == "1")
}

// Constraints returns the validator expression given with check= (or constraints=).
func (f Field) Constraints() string {
	if v, ok := f.Options["check"]; ok {
		return v
	}
	return f.Options["constraints"]
}
