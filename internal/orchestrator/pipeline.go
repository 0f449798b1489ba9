// Package orchestrator runs the ingestion workflow: extract archives into an extraction
// root, snapshot its structure and read the corrected schemas of its tables.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brensch/siardsearch/internal/archive"
	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/schema"
)

// FailureKind classifies a Failure.
type FailureKind string

const (
	KindExtraction    FailureKind = "extraction"
	KindManifestBuild FailureKind = "manifest_build"
	KindManifestWrite FailureKind = "manifest_write"
	KindSchemaRead    FailureKind = "schema_read"
	KindSchemaWrite   FailureKind = "schema_write"
	KindCancelled     FailureKind = "cancelled"
)

// Failure is one problem met during a run.
type Failure struct {
	Item  string      `json:"item"`
	Kind  FailureKind `json:"kind"`
	Error string      `json:"error"`
	Err   error       `json:"-"`
}

func newFailure(item string, kind FailureKind, err error) Failure {
	return Failure{Item: item, Kind: kind, Error: err.Error(), Err: err}
}

// Report is the outcome of a run. Success tells whether the extraction root ended up with a
// fresh manifest and schemas; Failures lists everything that went wrong along the way,
// including partial failures that did not stop the run.
type Report struct {
	Success  bool              `json:"success"`
	Root     string            `json:"root"`
	Files    []string          `json:"files,omitempty"`
	Manifest manifest.Manifest `json:"-"`
	Schemas  schema.Schemas    `json:"schemas,omitempty"`
	Failures []Failure         `json:"failures,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Err joins the errors of all failures, or returns nil when there were none.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s %s: %w", f.Kind, f.Item, f.Err))
	}
	return errors.Join(errs...)
}

// Pipeline wires the extractor, manifest and schema corrector together.
type Pipeline struct {
	extractor  *archive.Extractor
	corrector  *schema.Corrector
	extensions []string
	logger     *slog.Logger
}

// New creates a Pipeline. extensions selects the tabular files whose schemas are read.
func New(extractor *archive.Extractor, corrector *schema.Corrector, extensions []string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{extractor: extractor, corrector: corrector, extensions: extensions, logger: logger}
}

// IngestArchive extracts one archive straight into root and reindexes root.
// A failed extraction leaves root untouched and the report unsuccessful.
func (p *Pipeline) IngestArchive(ctx context.Context, archivePath, root string) *Report {
	l := p.logger.With(slog.String("archive", archivePath), slog.String("root", root))
	start := time.Now()
	report := &Report{Root: root}

	l.Info("Phase 1: Extracting archive.")
	files, err := p.extractor.Extract(ctx, archivePath, root)
	if err != nil {
		l.Error("Extraction failed.", "error", err)
		report.Failures = append(report.Failures, newFailure(archivePath, KindExtraction, err))
		report.Duration = time.Since(start)
		return report
	}
	report.Files = files

	p.reindex(ctx, l, report)
	report.Duration = time.Since(start)
	return report
}

// IngestDirectory extracts every archive under sourceDir into its own subdirectory of root,
// then reindexes root. Archives that fail are listed; the rest are still indexed.
func (p *Pipeline) IngestDirectory(ctx context.Context, sourceDir, root string) *Report {
	l := p.logger.With(slog.String("source_dir", sourceDir), slog.String("root", root))
	start := time.Now()
	report := &Report{Root: root}

	l.Info("Phase 1: Extracting archives.")
	batch, err := p.extractor.ExtractDirectory(ctx, sourceDir, root)
	if batch != nil {
		for _, r := range batch.Extracted {
			report.Files = append(report.Files, r.Files...)
		}
		for _, f := range batch.Failed {
			report.Failures = append(report.Failures, newFailure(f.Archive, KindExtraction, f))
		}
	}
	if err != nil {
		kind := KindExtraction
		if ctx.Err() != nil {
			kind = KindCancelled
		}
		l.Error("Batch extraction did not complete.", "error", err)
		report.Failures = append(report.Failures, newFailure(sourceDir, kind, err))
		report.Duration = time.Since(start)
		return report
	}

	p.reindex(ctx, l, report)
	report.Duration = time.Since(start)
	return report
}

// Reindex rebuilds and persists the manifest and schemas of root without extracting anything.
func (p *Pipeline) Reindex(ctx context.Context, root string) *Report {
	l := p.logger.With(slog.String("root", root))
	start := time.Now()
	report := &Report{Root: root}
	p.reindex(ctx, l, report)
	report.Duration = time.Since(start)
	return report
}

// RefreshIndexed reindexes root only when it already carries a manifest, so that an index
// over several extraction roots picks up a root that was just ingested. It returns nil when
// root was never indexed.
func (p *Pipeline) RefreshIndexed(ctx context.Context, root string) *Report {
	if _, err := os.Stat(manifest.Path(root)); err != nil {
		return nil
	}
	p.logger.Debug("Refreshing existing index.", slog.String("root", root))
	return p.Reindex(ctx, root)
}

func (p *Pipeline) reindex(ctx context.Context, l *slog.Logger, report *Report) {
	root := report.Root
	if err := ctx.Err(); err != nil {
		report.Failures = append(report.Failures, newFailure(root, KindCancelled, err))
		return
	}

	l.Info("Phase 2: Analysing structure.")
	m, err := manifest.Build(root)
	if err != nil {
		l.Error("Failed to build manifest.", "error", err)
		report.Failures = append(report.Failures, newFailure(root, KindManifestBuild, err))
		return
	}
	if err := manifest.Persist(m, root); err != nil {
		l.Error("Failed to persist manifest.", "error", err)
		report.Failures = append(report.Failures, newFailure(manifest.Path(root), KindManifestWrite, err))
		return
	}
	report.Manifest = m
	l.Info("File structure saved.", "path", manifest.Path(root), slog.Int("files", m.FileCount()))

	l.Info("Phase 3: Reading schemas.")
	schemas, readErrs := schema.ReadSchemas(ctx, root, p.corrector, p.extensions, p.logger)
	for _, re := range readErrs {
		report.Failures = append(report.Failures, newFailure(re.Path, KindSchemaRead, re))
	}
	if err := schema.PersistSchemas(schemas, root); err != nil {
		l.Error("Failed to persist schemas.", "error", err)
		report.Failures = append(report.Failures, newFailure(schema.SchemasPath(root), KindSchemaWrite, err))
		return
	}
	report.Schemas = schemas
	l.Info("Schema information saved.", "path", schema.SchemasPath(root), slog.Int("tables", len(schemas)))

	if err := ctx.Err(); err != nil {
		report.Failures = append(report.Failures, newFailure(root, KindCancelled, err))
		return
	}
	report.Success = true
}
