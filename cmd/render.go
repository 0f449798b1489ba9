package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/brensch/siardsearch/internal/orchestrator"
	"github.com/brensch/siardsearch/internal/search"
)

// --- Styles ---
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	fileStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	lineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	columnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("79"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	rowStyle     = lipgloss.NewStyle().PaddingLeft(2)
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// rootArg resolves an optional extraction root argument. Relative roots are taken from
// the extraction directory unless they exist relative to the working directory.
func rootArg(args []string, idx int) string {
	cfg := getConfig()
	if len(args) <= idx || args[idx] == "" {
		return cfg.ExtractDir
	}
	p := args[idx]
	if filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(cfg.ExtractDir, p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderReport(w io.Writer, title string, r *orchestrator.Report) {
	status := successStyle.Render("ok")
	if !r.Success {
		status = errorStyle.Render("failed")
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(title), status)
	fmt.Fprintf(w, "%s %s\n", infoStyle.Render("root:"), r.Root)
	fmt.Fprintf(w, "%s %d extracted, %d indexed, %d schemas\n", infoStyle.Render("files:"),
		len(r.Files), r.Manifest.FileCount(), len(r.Schemas))
	fmt.Fprintf(w, "%s %s\n", infoStyle.Render("took:"), r.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Fprintln(w, rowStyle.Render(errorStyle.Render(fmt.Sprintf("%s %s: %s", f.Kind, f.Item, f.Error))))
	}
}

func renderMatches(w io.Writer, query string, res *search.Result) {
	fmt.Fprintf(w, "%s %q %s\n", titleStyle.Render("Search"), query,
		infoStyle.Render(fmt.Sprintf("(%d files from %s, %d matches)", res.Files, res.Source, len(res.Matches))))
	for _, m := range res.Matches {
		fmt.Fprintf(w, "%s%s\n", fileStyle.Render(m.File), lineStyle.Render(fmt.Sprintf(":%d", m.Line)))
		parts := make([]string, 0, len(m.Row))
		for _, f := range m.Row {
			parts = append(parts, columnStyle.Render(f.Column+"=")+f.Value)
		}
		fmt.Fprintln(w, rowStyle.Render(strings.Join(parts, "  ")))
	}
	for _, f := range res.Failures {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("skipped %s: %v", f.File, f.Err)))
	}
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(infoStyle).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}
