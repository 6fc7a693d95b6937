// Package model describes runtime-defined tables and the records stored in them.
package model

import (
	"strings"
	"time"
)

type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeCurrency  DataType = "currency"
	TypeBoolean   DataType = "boolean"
	TypeDate      DataType = "date"
	TypeDatetime  DataType = "datetime"
	TypeEnum      DataType = "enum"
	TypePicklist  DataType = "picklist"
	TypeReference DataType = "reference"
)

var dataTypes = []DataType{
	TypeString, TypeInteger, TypeCurrency, TypeBoolean, TypeDate,
	TypeDatetime, TypeEnum, TypePicklist, TypeReference,
}

// ParseDataType accepts the canonical names case-insensitively.
func ParseDataType(s string) (DataType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range dataTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// NeedsEnum reports whether the type draws values from an Enum.
func (t DataType) NeedsEnum() bool { return t == TypeEnum || t == TypePicklist }

// Column is a typed field definition. Exactly one of TableID / LinkTableID is set.
type Column struct {
	ID                   string    `json:"id"`
	TableID              string    `json:"table_id,omitempty"`
	LinkTableID          string    `json:"link_table_id,omitempty"`
	Name                 string    `json:"name"`
	DataType             DataType  `json:"data_type"`
	Required             bool      `json:"required"`
	Unique               bool      `json:"unique"`
	Searchable           bool      `json:"searchable"`
	IsList               bool      `json:"is_list"`
	Constraints          string    `json:"constraints,omitempty"`
	EnumID               string    `json:"enum_id,omitempty"`
	ReferenceLinkTableID string    `json:"reference_link_table_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// OwnerID is the id of the table or link table the column belongs to.
func (c *Column) OwnerID() string {
	if c.LinkTableID != "" {
		return c.LinkTableID
	}
	return c.TableID
}

type Table struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	DisplayFormat          string    `json:"display_format,omitempty"`
	DisplayFormatSecondary string    `json:"display_format_secondary,omitempty"`
	Columns                []*Column `json:"columns"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

type Enum struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Values    []string  `json:"values"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Enum) Has(v string) bool {
	for _, x := range e.Values {
		if x == v {
			return true
		}
	}
	return false
}

// LinkTable mediates a relationship between two tables and carries attribute columns of its own.
type LinkTable struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FromTableID string    `json:"from_table_id"`
	ToTableID   string    `json:"to_table_id"`
	Columns     []*Column `json:"columns"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Touches reports whether tableID is one of the link's endpoints.
func (l *LinkTable) Touches(tableID string) bool {
	return l.FromTableID == tableID || l.ToTableID == tableID
}

type Record struct {
	ID        string         `json:"id"`
	TableID   string         `json:"table_id"`
	Version   int64          `json:"version"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LinkRecord links one "from" record to one "to" record and stores the relationship attributes.
type LinkRecord struct {
	ID           string         `json:"id"`
	LinkTableID  string         `json:"link_table_id"`
	FromRecordID string         `json:"from_record_id"`
	ToRecordID   string         `json:"to_record_id"`
	Version      int64          `json:"version"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Other returns the endpoint opposite to tableID and whether tableID is the "from" side.
// For self links the owner is treated as the "from" side.
func (l *LinkTable) Other(tableID string) (otherID string, ownerIsFrom bool) {
	if l.FromTableID == tableID {
		return l.ToTableID, true
	}
	return l.FromTableID, false
}
