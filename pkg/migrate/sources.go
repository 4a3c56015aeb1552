package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stripe/schema-planner/internal/sqlscan"
	"github.com/stripe/schema-planner/pkg/scheduler"
)

type (
	// TableSource is one table definition file
	TableSource struct {
		Path       string
		Schema     string
		Name       string
		Definition string
	}

	// ObjectSource is one non-table object definition file, e.g., a view or a procedure
	ObjectSource struct {
		Path   string
		Schema string
		Name   string
		Type   scheduler.ObjectType
		Code   string
	}

	Sources struct {
		Tables  []TableSource
		Objects []ObjectSource
	}
)

// LoadSources reads every *.sql file under tablesDir and objectsDir, recursively and in lexical path order. Each
// file's object is identified from its first CREATE statement. Unqualified names take defaultSchema.
//
// Either directory may be empty, in which case it is not read. A table definition found in objectsDir is loaded as a
// table, and vice versa.
func LoadSources(tablesDir, objectsDir, defaultSchema string) (Sources, error) {
	var paths []string
	for _, dir := range []string{tablesDir, objectsDir} {
		if dir == "" {
			continue
		}
		dirPaths, err := sqlFiles(dir)
		if err != nil {
			return Sources{}, err
		}
		paths = append(paths, dirPaths...)
	}

	var sources Sources
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return Sources{}, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := sources.add(path, string(content), defaultSchema); err != nil {
			return Sources{}, err
		}
	}
	return sources, nil
}

func (s *Sources) add(path, content, defaultSchema string) error {
	header, ok := sqlscan.FindCreate(content)
	if !ok {
		return fmt.Errorf("no CREATE statement found in %s", path)
	}
	schema, name := sqlscan.SplitSchema(header.Parts, defaultSchema)
	if header.Kind == string(scheduler.ObjectTypeTable) {
		s.Tables = append(s.Tables, TableSource{
			Path:       path,
			Schema:     schema,
			Name:       name,
			Definition: content,
		})
		return nil
	}
	objType, err := scheduler.ParseObjectType(header.Kind)
	if err != nil {
		return fmt.Errorf("parsing object type of %s: %w", path, err)
	}
	s.Objects = append(s.Objects, ObjectSource{
		Path:   path,
		Schema: schema,
		Name:   name,
		Type:   objType,
		Code:   content,
	})
	return nil
}

func sqlFiles(dir string) ([]string, error) {
	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
