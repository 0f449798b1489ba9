// Package archive unpacks ZIP-family containers (plain .zip and SIARD exports)
// into an extraction directory.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/util"
)

// Extractor writes archive members to disk.
type Extractor struct {
	workers    int
	timeout    time.Duration
	extensions []string
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithWorkers sets how many archives ExtractDirectory unpacks at once.
func WithWorkers(n int) Option {
	return func(x *Extractor) error {
		if n < 1 {
			return fmt.Errorf("%w: got %d", ErrWorkersInvalid, n)
		}
		x.workers = n
		return nil
	}
}

// WithTimeout bounds the time spent on a single archive. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(x *Extractor) error {
		x.timeout = d
		return nil
	}
}

// WithExtensions sets the archive extensions ExtractDirectory picks up.
func WithExtensions(exts []string) Option {
	return func(x *Extractor) error {
		if len(exts) > 0 {
			x.extensions = exts
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) error {
		if logger == nil {
			logger = slog.Default()
		}
		x.logger = logger
		return nil
	}
}

// New creates an Extractor.
func New(opts ...Option) (*Extractor, error) {
	x := &Extractor{
		workers:    config.DefaultExtractWorkers,
		extensions: config.DefaultArchiveExtensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// IsArchive reports whether name carries one of the configured archive extensions.
func (x *Extractor) IsArchive(name string) bool {
	return util.HasExtension(name, x.extensions)
}

type member struct {
	file   *zip.File
	target string // final path under the destination
	staged string // path in the staging directory
}

// Extract unpacks every member of archivePath into destDir and returns the absolute paths of
// the files written. Member names are validated up front; an archive with any name that would
// land outside destDir is rejected before anything is written. A member that fails to
// decompress or verify leaves destDir untouched.
func (x *Extractor) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	l := x.logger.With(slog.String("archive", archivePath), slog.String("dest", destDir))
	l.Info("Starting archive extraction.")
	start := time.Now()

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("resolve destination: %w", err)}
	}

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		// Only returned when GODEBUG=zipinsecurepath=0; the reader is still usable.
		zr.Close()
		l.Error("Rejecting archive with insecure member names.")
		return nil, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("%w: %v", ErrUnsafePath, err)}
	}
	if err != nil {
		l.Error("Failed to open archive.", "error", err)
		return nil, &ExtractionError{Archive: archivePath, Err: err}
	}
	defer zr.Close()

	members := make([]member, 0, len(zr.File))
	for _, f := range zr.File {
		target, err := memberPath(absDest, f.Name)
		if err != nil {
			l.Error("Rejecting archive with unsafe member.", "member", f.Name)
			return nil, &ExtractionError{Archive: archivePath, Member: f.Name, Err: err}
		}
		members = append(members, member{file: f, target: target})
	}

	// Members are staged in a sibling directory and moved into destDir once all of them
	// were written and verified.
	parent := filepath.Dir(absDest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("create destination parent: %w", err)}
	}
	staging, err := os.MkdirTemp(parent, util.TempPrefix+"extract-")
	if err != nil {
		return nil, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("create staging directory: %w", err)}
	}
	defer os.RemoveAll(staging)

	for i := range members {
		m := &members[i]
		if err := ctx.Err(); err != nil {
			l.Warn("Extraction cancelled.", "error", err, slog.Int("staged", i))
			return nil, &ExtractionError{Archive: archivePath, Member: m.file.Name, Err: err}
		}
		if m.staged, err = memberPath(staging, m.file.Name); err != nil {
			return nil, &ExtractionError{Archive: archivePath, Member: m.file.Name, Err: err}
		}
		if m.file.FileInfo().IsDir() {
			continue
		}
		if err := writeMember(*m); err != nil {
			l.Error("Failed to write member.", "member", m.file.Name, "error", err)
			return nil, &ExtractionError{Archive: archivePath, Member: m.file.Name, Err: err}
		}
		l.Debug("Member staged.", "member", m.file.Name)
	}

	extracted, err := install(members, absDest)
	if err != nil {
		l.Error("Failed to move extracted files into place.", "error", err, slog.Int("moved", len(extracted)))
		return extracted, &ExtractionError{Archive: archivePath, Err: err}
	}

	l.Info("Archive extracted.",
		slog.Int("files", len(extracted)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return extracted, nil
}

// install moves staged members to their targets under dest. A member name that occurs
// twice is installed once, from its last staged copy.
func install(members []member, dest string) ([]string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	installed := make(map[string]bool, len(members))
	extracted := make([]string, 0, len(members))
	for _, m := range members {
		if m.file.FileInfo().IsDir() {
			if err := os.MkdirAll(m.target, 0o755); err != nil {
				return extracted, err
			}
			continue
		}
		if installed[m.target] {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(m.target), 0o755); err != nil {
			return extracted, fmt.Errorf("create parent of %s: %w", m.file.Name, err)
		}
		if err := os.Rename(m.staged, m.target); err != nil {
			return extracted, fmt.Errorf("move %s into place: %w", m.file.Name, err)
		}
		installed[m.target] = true
		extracted = append(extracted, m.target)
	}
	return extracted, nil
}

// memberPath maps a member name onto dest. Backslashes are treated as separators so
// archives written on Windows cannot smuggle parent segments past the check.
func memberPath(dest, name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: parent segment in %q", ErrUnsafePath, name)
		}
	}
	clean = strings.TrimSuffix(clean, "/")
	if clean == "" || clean == "." {
		return dest, nil
	}
	local := filepath.FromSlash(clean)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dest, local), nil
}

// writeMember copies one member to its staged path, truncating any previous file.
// Symlink entries are written as regular files holding the link text.
func writeMember(m member) error {
	if err := os.MkdirAll(filepath.Dir(m.staged), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	rc, err := m.file.Open()
	if err != nil {
		return fmt.Errorf("open member: %w", err)
	}
	out, err := os.OpenFile(m.staged, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		rc.Close()
		return fmt.Errorf("create file: %w", err)
	}
	_, copyErr := io.Copy(out, rc)
	closeOutErr := out.Close()
	closeRcErr := rc.Close()
	if err := errors.Join(copyErr, closeOutErr, closeRcErr); err != nil {
		os.Remove(m.staged)
		return err
	}
	return nil
}

// Result lists the files written for one archive of a batch.
type Result struct {
	Archive string
	Dest    string
	Files   []string
}

// BatchResult is the outcome of ExtractDirectory. Failed archives do not affect the others.
type BatchResult struct {
	Extracted []Result
	Failed    []*ExtractionError
}

// FileCount returns the number of files written across all successful archives.
func (b *BatchResult) FileCount() int {
	n := 0
	for _, r := range b.Extracted {
		n += len(r.Files)
	}
	return n
}

type outcome struct {
	result Result
	err    error
}

// ExtractDirectory extracts every archive found directly under sourceDir, each into
// destDir/<archive name without extension>, using a bounded worker pool.
// The returned error is non-nil only when sourceDir cannot be listed, the pool cannot be
// created, or ctx ends; per-archive failures are reported in BatchResult.Failed.
func (x *Extractor) ExtractDirectory(ctx context.Context, sourceDir, destDir string) (*BatchResult, error) {
	l := x.logger.With(slog.String("source_dir", sourceDir), slog.String("dest", destDir))

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("list archives in %s: %w", sourceDir, err)
	}
	var archives []string
	for _, e := range entries {
		if !e.IsDir() && x.IsArchive(e.Name()) {
			archives = append(archives, e.Name())
		}
	}
	batch := &BatchResult{}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	if len(archives) == 0 {
		l.Info("No archives found to extract.")
		return batch, nil
	}
	l.Info("Extracting archives.", slog.Int("count", len(archives)), slog.Int("workers", x.workers))

	pool, err := ants.NewPool(x.workers)
	if err != nil {
		return nil, fmt.Errorf("create extraction pool: %w", err)
	}
	defer pool.Release()

	outcomes := make(chan outcome, len(archives))
	for _, name := range archives {
		src := filepath.Join(sourceDir, name)
		dst := filepath.Join(destDir, strings.TrimSuffix(name, filepath.Ext(name)))
		task := func() {
			files, err := x.Extract(ctx, src, dst)
			outcomes <- outcome{result: Result{Archive: src, Dest: dst, Files: files}, err: err}
		}
		if submitErr := pool.Submit(task); submitErr != nil {
			outcomes <- outcome{result: Result{Archive: src, Dest: dst}, err: &ExtractionError{Archive: src, Err: submitErr}}
		}
	}

	for range archives {
		o := <-outcomes
		if o.err != nil {
			var extractErr *ExtractionError
			if !errors.As(o.err, &extractErr) {
				extractErr = &ExtractionError{Archive: o.result.Archive, Err: o.err}
			}
			batch.Failed = append(batch.Failed, extractErr)
			continue
		}
		batch.Extracted = append(batch.Extracted, o.result)
	}
	sort.Slice(batch.Extracted, func(i, j int) bool { return batch.Extracted[i].Archive < batch.Extracted[j].Archive })
	sort.Slice(batch.Failed, func(i, j int) bool { return batch.Failed[i].Archive < batch.Failed[j].Archive })

	l.Info("Batch extraction finished.",
		slog.Int("extracted", len(batch.Extracted)),
		slog.Int("failed", len(batch.Failed)),
		slog.Int("files", batch.FileCount()))
	return batch, ctx.Err()
}
