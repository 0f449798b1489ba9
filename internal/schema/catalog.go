// Package schema reconciles raw column headers of extracted tables against a
// catalog of canonical table schemas.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Table is one canonical schema: a table name and its ordered column names.
type Table struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
}

// Catalog is an immutable, ordered set of canonical tables.
type Catalog struct {
	tables []Table
	pool   []string
}

type catalogFile struct {
	Tables []Table `yaml:"tables"`
}

// LoadCatalog parses a YAML catalog of the form
//
//	tables:
//	  - name: Person
//	    columns: [PIN, Name]
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(f.Tables)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalogYAML))
})

// DefaultCatalog returns the embedded catalog. It is parsed once.
func DefaultCatalog() (*Catalog, error) {
	return defaultCatalog()
}

// NewCatalog validates tables and builds a Catalog from a copy of them.
func NewCatalog(tables []Table) (*Catalog, error) {
	if len(tables) == 0 {
		return nil, errors.New("catalog has no tables")
	}
	c := &Catalog{tables: make([]Table, 0, len(tables))}
	seen := make(map[string]bool, len(tables))
	inPool := make(map[string]bool)
	var errs []error
	for i, t := range tables {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("table %d has no name", i))
			continue
		case seen[t.Name]:
			errs = append(errs, fmt.Errorf("table %s listed twice", t.Name))
			continue
		case len(t.Columns) == 0:
			errs = append(errs, fmt.Errorf("table %s has no columns", t.Name))
			continue
		}
		seen[t.Name] = true
		c.tables = append(c.tables, Table{Name: t.Name, Columns: slices.Clone(t.Columns)})
		for _, col := range t.Columns {
			if !inPool[col] {
				inPool[col] = true
				c.pool = append(c.pool, col)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return c, nil
}

// Tables returns a copy of the catalog's tables in order.
func (c *Catalog) Tables() []Table {
	out := make([]Table, len(c.tables))
	for i, t := range c.tables {
		out[i] = Table{Name: t.Name, Columns: slices.Clone(t.Columns)}
	}
	return out
}

// Columns returns the canonical columns of table name.
func (c *Catalog) Columns(name string) ([]string, bool) {
	for _, t := range c.tables {
		if t.Name == name {
			return slices.Clone(t.Columns), true
		}
	}
	return nil, false
}

// Pool returns the union of all canonical column names, first occurrence first.
func (c *Catalog) Pool() []string {
	return slices.Clone(c.pool)
}
