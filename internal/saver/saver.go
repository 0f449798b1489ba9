// Package saver exports extracted tables to Parquet, one file per table, with the column
// names corrected against the canonical schemas.
package saver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/panjf2000/ants/v2"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/util"
)

// writer goroutines per Parquet file
const writeParallelism = 4

// Export describes one written Parquet file.
type Export struct {
	Source  string   `json:"source"` // slash path relative to the exported root
	Output  string   `json:"output"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Saver writes tables of an extraction root to an output directory.
type Saver struct {
	outDir     string
	corrector  *schema.Corrector
	extensions []string
	workers    int
	logger     *slog.Logger
}

// New creates a Saver. corrector may be nil, in which case raw header names are kept.
func New(outDir string, corrector *schema.Corrector, extensions []string, workers int, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Saver{outDir: outDir, corrector: corrector, extensions: extensions, workers: workers, logger: logger}
}

var umlauts = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "Ä", "Ae", "Ö", "Oe", "Ü", "Ue", "ß", "ss")

// columnNames turns header fields into unique names the Parquet schema accepts.
func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		clean := strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				return r
			}
			return '_'
		}, umlauts.Replace(strings.TrimSpace(h)))
		clean = strings.Trim(clean, "_")
		switch {
		case clean == "":
			clean = fmt.Sprintf("column_%d", i+1)
		case unicode.IsDigit(rune(clean[0])):
			clean = "c_" + clean
		}
		if n := seen[clean]; n > 0 {
			seen[clean] = n + 1
			clean = fmt.Sprintf("%s_%d", clean, n+1)
		}
		seen[clean]++
		names[i] = clean
	}
	return names
}

// OutputName maps a relative table path to its Parquet file name.
func OutputName(rel string) string {
	base := strings.TrimSuffix(rel, path.Ext(rel))
	return strings.ReplaceAll(base, "/", "__") + ".parquet"
}

// ExportFile writes the table at src to dst. Rows longer than the header are cut to the
// header's width; shorter rows are padded with empty strings.
func (s *Saver) ExportFile(ctx context.Context, src, dst string) (Export, error) {
	exp := Export{Output: dst}

	f, err := os.Open(src)
	if err != nil {
		return exp, err
	}
	defer f.Close()

	ts := util.NewTableScanner(f)
	header, err := ts.Header()
	if err != nil {
		return exp, fmt.Errorf("read header: %w", err)
	}
	if s.corrector != nil {
		header = s.corrector.Correct(header)
	}
	exp.Columns = columnNames(header)

	meta := make([]string, len(exp.Columns))
	for i, name := range exp.Columns {
		meta[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", name)
	}

	fw, err := local.NewLocalFileWriter(dst)
	if err != nil {
		return exp, fmt.Errorf("create file %s: %w", dst, err)
	}
	pw, err := writer.NewCSVWriter(meta, fw, writeParallelism)
	if err != nil {
		fw.Close()
		return exp, fmt.Errorf("create writer %s: %w", dst, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var writeErr error
	truncated := 0
	for ts.Scan() {
		if exp.Rows%1024 == 0 {
			if writeErr = ctx.Err(); writeErr != nil {
				break
			}
		}
		values := ts.Fields()
		if len(values) > len(meta) {
			truncated++
		}
		rec := make([]*string, len(meta))
		for j := range rec {
			v := ""
			if j < len(values) {
				v = values[j]
			}
			rec[j] = &v
		}
		if writeErr = pw.WriteString(rec); writeErr != nil {
			writeErr = fmt.Errorf("write row %d: %w", ts.Line(), writeErr)
			break
		}
		exp.Rows++
	}
	if writeErr == nil {
		writeErr = ts.Err()
	}
	stopErr := pw.WriteStop()
	closeErr := fw.Close()
	if err := errors.Join(writeErr, stopErr, closeErr); err != nil {
		os.Remove(dst)
		return exp, err
	}
	if truncated > 0 {
		s.logger.Warn("Rows wider than the header were cut.", "file", src, slog.Int("rows", truncated))
	}
	return exp, nil
}

// ExportRoot writes every tabular file under root to the output directory, several files at
// a time. Files that fail are skipped; the returned error joins their errors.
func (s *Saver) ExportRoot(ctx context.Context, root string) ([]Export, error) {
	s.logger.Info("--- Starting Parquet export ---", slog.String("root", root), slog.String("out_dir", s.outDir))
	start := time.Now()

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", s.outDir, err)
	}
	m, err := manifest.Load(root)
	if errors.Is(err, fs.ErrNotExist) {
		m, err = manifest.Build(root)
	}
	if err != nil {
		return nil, err
	}
	files := m.Files(s.extensions...)
	if len(files) == 0 {
		s.logger.Info("No tables found to export.")
		return nil, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create export pool: %w", err)
	}
	defer pool.Release()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		exports []Export
		errs    []error
	)
	for _, rel := range files {
		src := filepath.Join(root, filepath.FromSlash(rel))
		dst := filepath.Join(s.outDir, OutputName(rel))
		l := s.logger.With(slog.String("table", rel))
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			l.Info("Saving table to Parquet...")
			exp, err := s.ExportFile(ctx, src, dst)
			exp.Source = rel
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				l.Error("Failed to save table to Parquet.", "error", err)
				errs = append(errs, fmt.Errorf("save %s: %w", rel, err))
				return
			}
			l.Info("Successfully saved table to Parquet.", slog.String("output_path", dst), slog.Int64("rows", exp.Rows))
			exports = append(exports, exp)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("save %s: %w", rel, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()
	sort.Slice(exports, func(i, j int) bool { return exports[i].Source < exports[j].Source })

	finalErr := errors.Join(errs...)
	if finalErr != nil {
		s.logger.Error("Export completed with errors.", "error", finalErr)
	}
	s.logger.Info("--- Parquet export finished ---",
		slog.Int("tables", len(exports)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return exports, finalErr
}
