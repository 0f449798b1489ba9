package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/saver"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [root]",
	Short: "Export extracted tables to Parquet files",
	Long: `Writes every tabular file of an extraction root into a separate Snappy-compressed
Parquet file in the output directory, using the corrected column names.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		root := rootArg(args, 0)

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger.Info("Starting Parquet export...",
			slog.String("root", root),
			slog.String("output_dir", cfg.OutputDir),
		)

		s := saver.New(cfg.OutputDir, corrector, cfg.TabularExtensions, cfg.ExtractWorkers, logger)
		exports, err := s.ExportRoot(ctx, root)

		rows := make([][]string, 0, len(exports))
		for _, e := range exports {
			rows = append(rows, []string{e.Source, e.Output, strconv.FormatInt(e.Rows, 10)})
		}
		fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Export")+" "+infoStyle.Render(root))
		renderTable(cmd.OutOrStdout(), []string{"source", "parquet", "rows"}, rows)

		if err != nil {
			logger.Error("Export completed with errors", "error", err)
			return fmt.Errorf("export failed: %w", err)
		}
		logger.Info("Parquet export completed successfully.", slog.Int("files", len(exports)))
		return nil
	},
}
