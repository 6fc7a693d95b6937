// Package bootstrap seeds an empty store with enums, tables and link tables described
// in a YAML file. Column lists use the DSL of package dsl.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"minicrm/internal/dsl"
	"minicrm/internal/model"
	"minicrm/internal/reference"
	"minicrm/internal/schema"
)

// File is the YAML document. Relative directories resolve against the file's directory.
//
//	enums:
//	  - name: Status
//	    items: [{code: lead}, {code: customer}]
//	enums_dir: reference/enums
//	schema: |
//	  table Contact:
//	    name: string required searchable
//	schema_dir: dsl
type File struct {
	Enums     []reference.EnumDirectory `yaml:"enums"`
	EnumsDir  string                    `yaml:"enums_dir"`
	Schema    string                    `yaml:"schema"`
	SchemaDir string                    `yaml:"schema_dir"`
}

// Plan is the merged content of a bootstrap file.
type Plan struct {
	Enums    []dsl.EnumDecl
	Entities []*dsl.Entity
}

type Summary struct {
	Skipped    bool
	Enums      int
	Tables     int
	LinkTables int
	Columns    int
}

// Load reads path and everything it points to.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	plan := &Plan{}
	dirs := f.Enums
	if f.EnumsDir != "" {
		cat, err := reference.LoadEnumCatalog(resolve(f.EnumsDir))
		if err != nil {
			return nil, fmt.Errorf("enums_dir: %w", err)
		}
		dirs = append(dirs, cat...)
	}
	for _, d := range dirs {
		plan.Enums = append(plan.Enums, dsl.EnumDecl{Name: d.Name, Values: d.Values()})
	}

	if strings.TrimSpace(f.Schema) != "" {
		doc, err := dsl.Parse(strings.NewReader(f.Schema))
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		plan.add(doc)
	}
	if f.SchemaDir != "" {
		doc, err := dsl.LoadDir(resolve(f.SchemaDir))
		if err != nil {
			return nil, fmt.Errorf("schema_dir: %w", err)
		}
		plan.add(doc)
	}
	return plan, nil
}

func (p *Plan) add(doc *dsl.File) {
	p.Enums = append(p.Enums, doc.Enums...)
	p.Entities = append(p.Entities, doc.Entities...)
}

// Apply creates the plan through svc. A store that already has any schema object is
// left alone. Objects created before a failure stay in place.
func Apply(ctx context.Context, svc *schema.Service, plan *Plan, log *zap.SugaredLogger) (Summary, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var sum Summary
	cur := svc.Current()
	if len(cur.Tables)+len(cur.Enums)+len(cur.LinkTables) > 0 {
		log.Infow("bootstrap skipped, schema is not empty", "tables", len(cur.Tables))
		sum.Skipped = true
		return sum, nil
	}

	enums := map[string]string{}
	for _, e := range plan.Enums {
		created, err := svc.CreateEnum(ctx, e.Name, e.Values)
		if err != nil {
			return sum, fmt.Errorf("enum %s: %w", e.Name, err)
		}
		enums[strings.ToLower(created.Name)] = created.ID
		sum.Enums++
	}

	tables := map[string]string{}
	for _, ent := range plan.Entities {
		if ent.Kind != dsl.KindTable {
			continue
		}
		created, err := svc.CreateTable(ctx, ent.Name, ent.Display, ent.DisplaySecondary)
		if err != nil {
			return sum, fmt.Errorf("table %s (line %d): %w", ent.Name, ent.Line, err)
		}
		tables[strings.ToLower(created.Name)] = created.ID
		sum.Tables++
	}

	links := map[string]string{}
	for _, ent := range plan.Entities {
		if ent.Kind != dsl.KindLink {
			continue
		}
		from, ok := tables[strings.ToLower(ent.From)]
		if !ok {
			return sum, fmt.Errorf("link %s (line %d): unknown table %s", ent.Name, ent.Line, ent.From)
		}
		to, ok := tables[strings.ToLower(ent.To)]
		if !ok {
			return sum, fmt.Errorf("link %s (line %d): unknown table %s", ent.Name, ent.Line, ent.To)
		}
		created, err := svc.CreateLinkTable(ctx, ent.Name, from, to)
		if err != nil {
			return sum, fmt.Errorf("link %s (line %d): %w", ent.Name, ent.Line, err)
		}
		links[strings.ToLower(created.Name)] = created.ID
		sum.LinkTables++
	}

	// колонки после всех таблиц: ref[...] ссылается на link-таблицы
	for _, ent := range plan.Entities {
		for _, f := range ent.Fields {
			spec, err := columnSpec(f, enums, links)
			if err != nil {
				return sum, fmt.Errorf("%s %s (line %d): %w", ent.Kind, ent.Name, f.Line, err)
			}
			if ent.Kind == dsl.KindLink {
				_, err = svc.AddLinkColumn(ctx, links[strings.ToLower(ent.Name)], spec)
			} else {
				_, err = svc.AddColumn(ctx, tables[strings.ToLower(ent.Name)], spec)
			}
			if err != nil {
				return sum, fmt.Errorf("%s %s column %s (line %d): %w", ent.Kind, ent.Name, f.Name, f.Line, err)
			}
			sum.Columns++
		}
	}

	log.Infow("bootstrap applied", "enums", sum.Enums, "tables", sum.Tables,
		"link_tables", sum.LinkTables, "columns", sum.Columns)
	return sum, nil
}

func columnSpec(f dsl.Field, enums, links map[string]string) (schema.ColumnSpec, error) {
	spec := schema.ColumnSpec{
		Name:        f.Name,
		DataType:    f.Type,
		Required:    f.Flag("required"),
		Unique:      f.Flag("unique"),
		Searchable:  f.Flag("searchable"),
		IsList:      f.List,
		Constraints: f.Constraints(),
	}
	if f.Enum != "" {
		id, ok := enums[strings.ToLower(f.Enum)]
		if !ok {
			return spec, fmt.Errorf("unknown enum %s", f.Enum)
		}
		spec.EnumID = id
	}
	if f.Type == string(model.TypeReference) {
		id, ok := links[strings.ToLower(f.RefTarget)]
		if !ok {
			return spec, fmt.Errorf("unknown link table %s", f.RefTarget)
		}
		spec.ReferenceLinkTableID = id
	}
	return spec, nil
}
