// Package reference loads enum catalogs kept as YAML files.
package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники из папки dir.
// Имя справочника берётся из поля name или из имени файла.
func LoadEnumCatalog(dir string) ([]EnumDirectory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var result []EnumDirectory
	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if enumDir.Name == "" {
			enumDir.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		key := strings.ToLower(enumDir.Name)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("enum %s declared in %s and %s", enumDir.Name, prev, path)
		}
		seen[key] = path
		result = append(result, enumDir)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
