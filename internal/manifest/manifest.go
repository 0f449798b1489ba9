// Package manifest snapshots the directory structure of an extraction root and
// persists it as structure.json next to the extracted files.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/util"
)

// RootKey is the manifest key of the extraction root itself.
const RootKey = "."

// Entry lists the immediate children of one directory.
type Entry struct {
	Dirs  []string `json:"dirs"`
	Files []string `json:"files"`
}

// Manifest maps slash-separated directory paths, relative to the root, to their children.
type Manifest map[string]Entry

// WriteError reports a failure to persist a manifest.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write manifest %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Build walks root once and records every directory, root included.
// The persisted artifacts and their temp files at the root level are left out.
func Build(root string) (Manifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build manifest: %s is not a directory", root)
	}

	m := Manifest{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if _, ok := m[rel]; !ok {
				m[rel] = Entry{Dirs: []string{}, Files: []string{}}
			}
			if rel == RootKey {
				return nil
			}
		} else if IsArtifact(rel) {
			return nil
		}

		parent := path.Dir(rel)
		e := m[parent]
		if d.IsDir() {
			e.Dirs = append(e.Dirs, d.Name())
		} else {
			e.Files = append(e.Files, d.Name())
		}
		m[parent] = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	for k, e := range m {
		sort.Strings(e.Dirs)
		sort.Strings(e.Files)
		m[k] = e
	}
	return m, nil
}

// IsArtifact reports whether rel (slash-separated, relative to the root) names one of the
// files this module persists into an extraction root.
func IsArtifact(rel string) bool {
	if path.Dir(rel) != RootKey {
		return false
	}
	switch rel {
	case config.StructureFileName, config.SchemasFileName:
		return true
	}
	return util.IsTempArtifact(rel)
}

// Path returns where the manifest of root is stored.
func Path(root string) string {
	return filepath.Join(root, config.StructureFileName)
}

// Persist writes m to root/structure.json, replacing any previous snapshot.
func Persist(m Manifest, root string) error {
	p := Path(root)
	if err := util.WriteJSONAtomic(p, m); err != nil {
		return &WriteError{Path: p, Err: err}
	}
	return nil
}

// Load reads the persisted manifest of root.
// The error wraps fs.ErrNotExist when no snapshot has been written yet.
func Load(root string) (Manifest, error) {
	var m Manifest
	if err := util.ReadJSON(Path(root), &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if m == nil {
		return nil, errors.New("load manifest: empty document")
	}
	return m, nil
}

// Files returns the relative paths of all files, sorted, keeping only those whose extension
// is in exts when any are given.
func (m Manifest) Files(exts ...string) []string {
	var files []string
	for dir, e := range m {
		for _, f := range e.Files {
			if !util.HasExtension(f, exts) {
				continue
			}
			files = append(files, path.Join(dir, f))
		}
	}
	sort.Strings(files)
	return files
}

// FileCount returns the total number of files in the manifest.
func (m Manifest) FileCount() int {
	n := 0
	for _, e := range m {
		n += len(e.Files)
	}
	return n
}
