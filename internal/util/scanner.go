package util

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyHeader is returned when a tabular file has no usable header row.
var ErrEmptyHeader = errors.New("no header row")

const (
	scanBufferSize = 64 * 1024
	maxLineSize    = 10 * 1024 * 1024
)

// TableScanner reads a delimited text file: one header row, then data rows.
// The delimiter (tab or comma) is detected from the header line.
type TableScanner struct {
	scanner *bufio.Scanner
	delim   rune
	header  []string
	read    bool // header consumed
	line    int
	text    string
	fields  []string
	err     error
}

// NewTableScanner creates a TableScanner over r.
func NewTableScanner(r io.Reader) *TableScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufferSize), maxLineSize)
	return &TableScanner{scanner: scanner, delim: ','}
}

// Header returns the header fields, reading the first non-blank line on the first call.
func (ts *TableScanner) Header() ([]string, error) {
	if ts.read {
		if ts.header == nil {
			return nil, ts.headerErr()
		}
		return ts.header, nil
	}
	ts.read = true

	for ts.scanner.Scan() {
		ts.line++
		line := ts.scanner.Text()
		if ts.line == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.ContainsRune(line, '\t') {
			ts.delim = '\t'
		}
		fields, err := ts.split(line)
		if err != nil {
			ts.err = fmt.Errorf("line %d header: %w", ts.line, err)
			return nil, ts.err
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		ts.header = fields
		return ts.header, nil
	}
	return nil, ts.headerErr()
}

func (ts *TableScanner) headerErr() error {
	if err := ts.scanner.Err(); err != nil {
		return err
	}
	if ts.err != nil {
		return ts.err
	}
	return ErrEmptyHeader
}

// Scan advances to the next non-blank data row. The header is consumed first if needed.
func (ts *TableScanner) Scan() bool {
	if !ts.read {
		if _, err := ts.Header(); err != nil {
			return false
		}
	}
	if ts.header == nil {
		return false
	}
	for ts.scanner.Scan() {
		ts.line++
		line := ts.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := ts.split(line)
		if err != nil {
			// Quoting is broken on this line; fall back to a plain split so the row stays searchable.
			fields = strings.Split(line, string(ts.delim))
		}
		ts.text = line
		ts.fields = fields
		return true
	}
	return false
}

func (ts *TableScanner) split(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = ts.delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err == io.EOF {
		return []string{}, nil
	}
	return fields, err
}

// Text returns the raw text of the current row.
func (ts *TableScanner) Text() string { return ts.text }

// Fields returns the parsed fields of the current row.
func (ts *TableScanner) Fields() []string { return ts.fields }

// Line returns the 1-based line number of the current row.
func (ts *TableScanner) Line() int { return ts.line }

// Delimiter returns the detected field separator.
func (ts *TableScanner) Delimiter() rune { return ts.delim }

// Err returns the first non-EOF error encountered.
func (ts *TableScanner) Err() error {
	if err := ts.scanner.Err(); err != nil {
		return err
	}
	if ts.err != nil {
		return ts.err
	}
	if ts.read && ts.header == nil {
		return ErrEmptyHeader
	}
	return nil
}

// Buffer sets the internal buffer for the scanner.
func (ts *TableScanner) Buffer(buf []byte, max int) {
	ts.scanner.Buffer(buf, max)
}
