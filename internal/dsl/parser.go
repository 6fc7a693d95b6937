package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	tableRe    = regexp.MustCompile(`^table\s+(\w+)\s*:$`)
	linkRe     = regexp.MustCompile(`^link\s+(\w+)\s*:\s*(\w+)\s*->\s*(\w+)$`)
	enumDeclRe = regexp.MustCompile(`^enum\s+(\w+)\s*:\s*(.*)$`)
	fieldRe    = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe     = regexp.MustCompile(`^(enum|picklist)\[\s*(\w+)\s*\]$`)
	refRe      = regexp.MustCompile(`^ref\[\s*(\w+)\s*\]$`)
	arrayRe    = regexp.MustCompile(`^array\[(.+)\]$`)
	displayRe  = regexp.MustCompile(`^(display|display_secondary)\s*:\s*(.*)$`)
)

var typeAliases = map[string]string{
	"int":      "integer",
	"bool":     "boolean",
	"money":    "currency",
	"text":     "string",
	"ref":      "reference",
}

// splitOptionTokens делит "required check='min=2,max=40' searchable" на токены.
// Пробелы и запятые вне кавычек и [...] разделяют токены.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t' || r == ',') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// stripComment cuts a trailing # comment that is not inside quotes.
func stripComment(s string) string {
	inSingle, inDouble := false, false
	for i, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

// Parse reads one schema document.
func Parse(r io.Reader) (*File, error) {
	out := &File{}
	var current *Entity
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if m := enumDeclRe.FindStringSubmatch(line); m != nil {
			decl := EnumDecl{Name: m[1]}
			for _, tok := range splitOptionTokens(m[2]) {
				if v := unquote(tok); v != "" {
					decl.Values = append(decl.Values, v)
				}
			}
			out.Enums = append(out.Enums, decl)
			current = nil
			continue
		}
		if m := tableRe.FindStringSubmatch(line); m != nil {
			current = &Entity{Kind: KindTable, Name: m[1], Line: lineNo}
			out.Entities = append(out.Entities, current)
			continue
		}
		if m := linkRe.FindStringSubmatch(line); m != nil {
			current = &Entity{Kind: KindLink, Name: m[1], From: m[2], To: m[3], Line: lineNo}
			out.Entities = append(out.Entities, current)
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: %q outside of a table or link block", lineNo, line)
		}

		if m := displayRe.FindStringSubmatch(line); m != nil {
			if current.Kind != KindTable {
				return nil, fmt.Errorf("line %d: %s is only allowed on tables", lineNo, m[1])
			}
			if m[1] == "display" {
				current.Display = unquote(m[2])
			} else {
				current.DisplaySecondary = unquote(m[2])
			}
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
		}
		f, err := parseField(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		f.Line = lineNo
		current.Fields = append(current.Fields, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseField(name, rawType, tail string) (Field, error) {
	// склейка оборванных типов со скобками: "array[enum[ Status ]]"
	for strings.Count(rawType, "[") > strings.Count(rawType, "]") {
		idx := strings.Index(tail, "]")
		if idx < 0 {
			return Field{}, fmt.Errorf("field %s: unbalanced brackets in type", name)
		}
		rawType += tail[:idx+1]
		tail = tail[idx+1:]
	}

	f := Field{Name: name, Options: map[string]string{}}

	typ := strings.TrimSpace(rawType)
	if mm := arrayRe.FindStringSubmatch(typ); mm != nil {
		f.List = true
		typ = strings.TrimSpace(mm[1])
	}
	switch {
	case enumRe.MatchString(typ):
		mm := enumRe.FindStringSubmatch(typ)
		f.Type = mm[1]
		f.Enum = mm[2]
	case refRe.MatchString(typ):
		f.Type = "reference"
		f.RefTarget = refRe.FindStringSubmatch(typ)[1]
	case strings.ContainsAny(typ, "[]"):
		return Field{}, fmt.Errorf("field %s: unsupported type %s", name, typ)
	default:
		typ = strings.ToLower(typ)
		if alias, ok := typeAliases[typ]; ok {
			typ = alias
		}
		f.Type = typ
	}

	optsRaw := strings.TrimSpace(tail)
	if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
		optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
	}
	for _, tok := range splitOptionTokens(optsRaw) {
		// флаг без значения → "true"
		if !strings.Contains(tok, "=") {
			f.Options[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		if k != "" {
			f.Options[k] = unquote(kv[1])
		}
	}
	if f.Flag("list") {
		f.List = true
	}
	return f, nil
}

// LoadFile parses one .dsl file.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// LoadDir merges every .dsl file under root in path order. Names must be unique across files.
func LoadDir(root string) (*File, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	merged := &File{}
	seen := map[string]string{}
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		for _, e := range f.Enums {
			if err := claim(seen, "enum "+strings.ToLower(e.Name), p); err != nil {
				return nil, err
			}
		}
		for _, e := range f.Entities {
			if err := claim(seen, "entity "+strings.ToLower(e.Name), p); err != nil {
				return nil, err
			}
		}
		merged.Enums = append(merged.Enums, f.Enums...)
		merged.Entities = append(merged.Entities, f.Entities...)
	}
	return merged, nil
}

func claim(seen map[string]string, key, path string) error {
	if prev, ok := seen[key]; ok {
		return fmt.Errorf("duplicate %s in %s (first declared in %s)", key, path, prev)
	}
	seen[key] = path
	return nil
}
