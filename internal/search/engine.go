// Package search runs case-insensitive substring queries across the tabular files of an
// extraction root, one file per task on a bounded worker pool.
//
// Candidate files come from the root's persisted manifest when one exists and from a
// directory walk otherwise. Each task reads its file's header, corrects it against the
// canonical schemas when a corrector is configured, and returns every data line that
// contains the folded query. Tasks never share state: each returns its own matches and
// the coordinator merges them in completion order. A failing file is reported in
// Result.Failures and does not affect the others.
package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/text/cases"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/util"
)

// Source tells where the candidate files of a search came from.
type Source string

const (
	SourceNone     Source = "none"
	SourceManifest Source = "manifest"
	SourceWalk     Source = "walk"
)

// Engine searches extraction roots. It is safe for concurrent use.
type Engine struct {
	workers     int
	taskTimeout time.Duration
	extensions  []string
	corrector   *schema.Corrector
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithWorkers sets the number of files searched at once.
func WithWorkers(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("%w: got %d", ErrWorkersInvalid, n)
		}
		e.workers = n
		return nil
	}
}

// WithTaskTimeout bounds the time spent on one file. Zero disables the deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("task timeout must not be negative: %s", d)
		}
		e.taskTimeout = d
		return nil
	}
}

// WithExtensions sets which files are searched.
func WithExtensions(exts ...string) Option {
	return func(e *Engine) error {
		if len(exts) > 0 {
			e.extensions = exts
		}
		return nil
	}
}

// WithCorrector names row fields after canonical columns. Without it raw headers are used.
func WithCorrector(c *schema.Corrector) Option {
	return func(e *Engine) error {
		e.corrector = c
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		workers:    config.DefaultSearchWorkers,
		extensions: config.DefaultTabularExtensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Workers returns the pool size.
func (e *Engine) Workers() int { return e.workers }

// Result holds everything one search produced.
type Result struct {
	Matches  []Match
	Failures []*TaskError
	Files    int // candidate files searched
	Source   Source
}

// Sort orders matches by file then line and failures by file.
func (r *Result) Sort() {
	sort.Slice(r.Matches, func(i, j int) bool {
		if r.Matches[i].File != r.Matches[j].File {
			return r.Matches[i].File < r.Matches[j].File
		}
		return r.Matches[i].Line < r.Matches[j].Line
	})
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].File < r.Failures[j].File })
}

// Candidates lists the files of root a search would visit, as sorted slash paths relative
// to root. A missing root yields no candidates and no error.
func (e *Engine) Candidates(root string) ([]string, Source, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, SourceNone, nil
	}
	if err != nil {
		return nil, SourceNone, err
	}
	if !info.IsDir() {
		return nil, SourceNone, fmt.Errorf("search root %s is not a directory", root)
	}

	m, err := manifest.Load(root)
	switch {
	case err == nil:
		var files []string
		for _, f := range m.Files(e.extensions...) {
			if !filepath.IsLocal(filepath.FromSlash(f)) {
				e.logger.Warn("Ignoring manifest entry outside the root.", "file", f)
				continue
			}
			files = append(files, f)
		}
		return files, SourceManifest, nil
	case !errors.Is(err, fs.ErrNotExist):
		e.logger.Warn("Unreadable manifest, walking the root instead.", "root", root, "error", err)
	}

	files, err := e.walk(root)
	return files, SourceWalk, err
}

func (e *Engine) walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			e.logger.Warn("Skipping unreadable path.", "path", p, "error", err)
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
		if manifest.IsArtifact(rel) || !util.HasExtension(rel, e.extensions) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Search returns every data line under root containing query, ignoring case.
// The error is non-nil only when the search itself could not run or ctx ended before all
// files were searched; per-file problems are listed in Result.Failures.
func (e *Engine) Search(ctx context.Context, query, root string) (*Result, error) {
	l := e.logger.With(slog.String("root", root))
	needle := cases.Fold().String(query)
	l.Debug("Starting search.", "query", needle)
	start := time.Now()

	files, source, err := e.Candidates(root)
	if err != nil {
		return nil, err
	}
	res := &Result{Matches: []Match{}, Files: len(files), Source: source}
	if len(files) == 0 {
		l.Debug("No files to search.", slog.String("source", string(source)))
		return res, nil
	}

	pool, err := ants.NewPool(e.workers)
	if err != nil {
		return nil, fmt.Errorf("create search pool: %w", err)
	}
	defer pool.Release()

	results := make(chan taskResult, len(files))
	for _, f := range files {
		t := task{
			root:      root,
			file:      f,
			needle:    needle,
			timeout:   e.taskTimeout,
			corrector: e.corrector,
			logger:    l.With(slog.String("file", f)),
		}
		if err := pool.Submit(func() { results <- t.run(ctx) }); err != nil {
			results <- taskResult{file: f, err: &TaskError{File: f, Err: err}}
		}
	}

	for range files {
		r := <-results
		if r.err != nil {
			var taskErr *TaskError
			if !errors.As(r.err, &taskErr) {
				taskErr = &TaskError{File: r.file, Err: r.err}
			}
			l.Error("Error processing file.", "file", r.file, "error", taskErr.Err)
			res.Failures = append(res.Failures, taskErr)
			continue
		}
		res.Matches = append(res.Matches, r.matches...)
	}

	l.Info("Search finished.",
		slog.String("source", string(source)),
		slog.Int("files", len(files)),
		slog.Int("matches", len(res.Matches)),
		slog.Int("failures", len(res.Failures)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
