package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/util"
)

// rows scanned between context checks
const ctxCheckInterval = 256

// Field is one (column, value) pair of a row.
type Field struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Row holds the fields of a data line in header order.
type Row []Field

// Get returns the value of the first field named column.
func (r Row) Get(column string) (string, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}
	return "", false
}

// Match is a data line containing the query.
type Match struct {
	File string `json:"file"` // slash path relative to the search root
	Line int    `json:"line"`
	Raw  string `json:"raw"`
	Row  Row    `json:"row"`
}

// newRow pairs values with columns. Missing values are left empty and surplus values are
// named column_N after their 1-based position.
func newRow(columns, values []string) Row {
	n := max(len(columns), len(values))
	row := make(Row, n)
	for i := range n {
		if i < len(columns) {
			row[i].Column = columns[i]
		} else {
			row[i].Column = fmt.Sprintf("column_%d", i+1)
		}
		if i < len(values) {
			row[i].Value = values[i]
		}
	}
	return row
}

// task searches one file. It owns everything it touches; results go back to the coordinator.
type task struct {
	root      string
	file      string
	needle    string
	timeout   time.Duration
	corrector *schema.Corrector
	logger    *slog.Logger
}

type taskResult struct {
	file    string
	matches []Match
	err     error
}

func (t task) run(ctx context.Context) taskResult {
	matches, err := t.search(ctx)
	if err != nil {
		return taskResult{file: t.file, err: &TaskError{File: t.file, Err: err}}
	}
	return taskResult{file: t.file, matches: matches}
}

func (t task) search(ctx context.Context) ([]Match, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	t.logger.Debug("Processing file.")

	f, err := os.Open(filepath.Join(t.root, filepath.FromSlash(t.file)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ts := util.NewTableScanner(f)
	header, err := ts.Header()
	if errors.Is(err, util.ErrEmptyHeader) {
		t.logger.Debug("File has no rows.")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := header
	if t.corrector != nil {
		columns = t.corrector.Correct(header)
	}

	// A Caser keeps state between calls, so every task folds with its own.
	fold := cases.Fold()
	var matches []Match
	for n := 0; ts.Scan(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctxErr(ctx); err != nil {
				return nil, err
			}
		}
		if !strings.Contains(fold.String(ts.Text()), t.needle) {
			continue
		}
		matches = append(matches, Match{
			File: t.file,
			Line: ts.Line(),
			Raw:  ts.Text(),
			Row:  newRow(columns, ts.Fields()),
		})
	}
	if err := ts.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	if len(matches) > 0 {
		t.logger.Debug("Found matches in file.",
			slog.Int("matches", len(matches)),
			slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	}
	return matches, nil
}

// ctxErr is ctx.Err that also reports a passed deadline whose timer has not fired yet.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return nil
}
