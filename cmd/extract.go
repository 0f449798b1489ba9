package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/orchestrator"
)

var extractJSON bool

// extractCmd ingests one archive or every archive of a directory.
var extractCmd = &cobra.Command{
	Use:   "extract <archive|directory> [root]",
	Short: "Extract archives and index the extraction root",
	Long: `Extracts a ZIP/SIARD archive, or every archive found directly in a directory, writes
structure.json and schemas.json into the extraction root and reports per-archive failures.

A single archive goes to <extract-dir>/<archive name> unless a root is given. A directory
of archives is extracted into one sub-directory per archive under the root, which defaults
to the extraction directory itself.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		p, err := newPipeline()
		if err != nil {
			return err
		}

		src := args[0]
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("extract source: %w", err)
		}

		var report *orchestrator.Report
		if info.IsDir() {
			root := rootArg(args, 1)
			logger.Info("Extracting archive directory", "source", src, "root", root)
			report = p.IngestDirectory(ctx, src, root)
		} else {
			root := filepath.Join(cfg.ExtractDir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)))
			if len(args) > 1 {
				root = rootArg(args, 1)
			}
			logger.Info("Extracting archive", "archive", src, "root", root)
			report = p.IngestArchive(ctx, src, root)
		}

		if report.Success && filepath.Clean(report.Root) != filepath.Clean(cfg.ExtractDir) {
			if r := p.RefreshIndexed(ctx, cfg.ExtractDir); r != nil && !r.Success {
				logger.Warn("Failed to refresh the extraction directory index", "error", r.Err())
			}
		}

		if extractJSON {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			renderReport(cmd.OutOrStdout(), "Extract", report)
		}
		if !report.Success {
			return fmt.Errorf("extraction failed: %w", report.Err())
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "Print the report as JSON")
}
