package schema

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/util"
)

// Schemas maps a tabular file, as a slash path relative to its extraction root, to its
// corrected header.
type Schemas map[string][]string

// ReadError reports a tabular file whose header could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read schema %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadHeader returns the raw header row of the tabular file at path.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return util.NewTableScanner(f).Header()
}

// ReadSchemas reads the header of every tabular file under root and corrects it.
// Files that cannot be read are skipped and returned as ReadErrors; the walk continues.
func ReadSchemas(ctx context.Context, root string, corrector *Corrector, exts []string, logger *slog.Logger) (Schemas, []*ReadError) {
	if logger == nil {
		logger = slog.Default()
	}
	l := logger.With(slog.String("root", root))
	schemas := Schemas{}
	var failures []*ReadError

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return err
			}
			l.Error("Skipping unreadable path.", "path", p, "error", err)
			failures = append(failures, &ReadError{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if manifest.IsArtifact(rel) || !util.HasExtension(rel, exts) {
			return nil
		}

		header, err := ReadHeader(p)
		if err != nil {
			l.Error("Error reading schema from file.", "file", rel, "error", err)
			failures = append(failures, &ReadError{Path: rel, Err: err})
			return nil
		}
		corrected := corrector.Correct(header)
		schemas[rel] = corrected
		l.Debug("Read and corrected schema.", "file", rel, slog.Int("columns", len(corrected)))
		return nil
	})
	if err != nil {
		l.Error("Schema scan stopped.", "error", err)
		failures = append(failures, &ReadError{Path: root, Err: err})
	}
	l.Info("Schemas read.", slog.Int("files", len(schemas)), slog.Int("failures", len(failures)))
	return schemas, failures
}

// SchemasPath returns where the schemas of root are stored.
func SchemasPath(root string) string {
	return filepath.Join(root, config.SchemasFileName)
}

// PersistSchemas writes s to root/schemas.json, replacing any previous file.
func PersistSchemas(s Schemas, root string) error {
	p := SchemasPath(root)
	if err := util.WriteJSONAtomic(p, s); err != nil {
		return fmt.Errorf("persist schemas %s: %w", p, err)
	}
	return nil
}

// LoadSchemas reads the persisted schemas of root.
func LoadSchemas(root string) (Schemas, error) {
	var s Schemas
	if err := util.ReadJSON(SchemasPath(root), &s); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	if s == nil {
		s = Schemas{}
	}
	return s, nil
}
