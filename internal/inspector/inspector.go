// Package inspector summarizes extracted tables with an in-memory DuckDB: row counts and
// the column types DuckDB infers from the delimited files.
package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/brensch/siardsearch/internal/manifest"
	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/util"
)

// Column is one column as DuckDB sees it.
type Column struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Canonical string `json:"canonical,omitempty"` // corrected name when a corrector is set
}

// TableSummary describes one tabular file.
type TableSummary struct {
	File    string   `json:"file"` // slash path relative to the inspected root
	Rows    int64    `json:"rows"`
	Columns []Column `json:"columns"`
	Err     error    `json:"-"`
}

// Inspector runs DuckDB queries over extracted files. It holds no persistent database.
type Inspector struct {
	db        *sql.DB
	corrector *schema.Corrector
	logger    *slog.Logger
}

// Open starts an in-memory DuckDB. corrector may be nil.
func Open(corrector *schema.Corrector, logger *slog.Logger) (*Inspector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory duckdb: %w", err)
	}
	return &Inspector{db: db, corrector: corrector, logger: logger}, nil
}

// Close releases the database.
func (i *Inspector) Close() error {
	return i.db.Close()
}

// quotePath escapes path as a SQL string literal. DuckDB wants forward slashes.
func quotePath(path string) string {
	path = strings.ReplaceAll(path, `\`, `/`)
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}

func readCSVExpr(path string, delim rune) string {
	d := "','"
	if delim == '\t' {
		d = `'\t'`
	}
	return fmt.Sprintf("read_csv(%s, delim=%s, header=true, quote='\"')", quotePath(path), d)
}

func detectDelimiter(path string) (rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	ts := util.NewTableScanner(f)
	if _, err := ts.Header(); err != nil {
		return 0, err
	}
	return ts.Delimiter(), nil
}

// InspectFile counts the rows of one file and describes its columns. rel is only used to
// label the summary.
func (i *Inspector) InspectFile(ctx context.Context, path, rel string) (TableSummary, error) {
	summary := TableSummary{File: rel}
	l := i.logger.With(slog.String("file", rel))

	delim, err := detectDelimiter(path)
	if err != nil {
		return summary, fmt.Errorf("detect delimiter of %s: %w", rel, err)
	}
	from := readCSVExpr(path, delim)

	conn, err := i.db.Conn(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	describeSQL := fmt.Sprintf("DESCRIBE SELECT * FROM %s;", from)
	l.Debug("Executing describe query.", slog.String("sql", describeSQL))
	rows, err := conn.QueryContext(ctx, describeSQL)
	if err != nil {
		return summary, fmt.Errorf("query schema for %s: %w", rel, err)
	}
	var names []string
	for rows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if err := rows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); err != nil {
			rows.Close()
			return summary, fmt.Errorf("scan schema row for %s: %w", rel, err)
		}
		summary.Columns = append(summary.Columns, Column{Name: colName.String, Type: colType.String})
		names = append(names, colName.String)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return summary, fmt.Errorf("iterate schema rows for %s: %w", rel, err)
	}
	if i.corrector != nil {
		for idx, name := range i.corrector.Correct(names) {
			summary.Columns[idx].Canonical = name
		}
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM %s;", from)
	if err := conn.QueryRowContext(ctx, countSQL).Scan(&summary.Rows); err != nil {
		return summary, fmt.Errorf("count rows of %s: %w", rel, err)
	}
	l.Debug("Statistics gathered.", slog.Int64("rows", summary.Rows), slog.Int("columns", len(summary.Columns)))
	return summary, nil
}

// InspectRoot summarizes every tabular file under root, taken from the persisted manifest
// when there is one. A file that cannot be inspected keeps its error in TableSummary.Err;
// the returned error joins them all.
func (i *Inspector) InspectRoot(ctx context.Context, root string, exts []string) ([]TableSummary, error) {
	i.logger.Info("--- Starting table inspection ---", slog.String("root", root))
	m, err := manifest.Load(root)
	if errors.Is(err, fs.ErrNotExist) {
		m, err = manifest.Build(root)
	}
	if err != nil {
		return nil, err
	}

	files := m.Files(exts...)
	if len(files) == 0 {
		i.logger.Info("No tabular files found.", slog.String("root", root))
		return nil, nil
	}

	var summaries []TableSummary
	var errs []error
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return summaries, errors.Join(append(errs, err)...)
		}
		summary, err := i.InspectFile(ctx, filepath.Join(root, filepath.FromSlash(rel)), rel)
		if err != nil {
			i.logger.Error("Failed to inspect table.", "file", rel, "error", err)
			summary.Err = err
			errs = append(errs, err)
		}
		summaries = append(summaries, summary)
	}
	finalErr := errors.Join(errs...)
	if finalErr != nil {
		i.logger.Warn("Inspection completed with errors.", "error", finalErr)
	}
	i.logger.Info("--- Table inspection finished ---", slog.Int("tables", len(summaries)))
	return summaries, finalErr
}
