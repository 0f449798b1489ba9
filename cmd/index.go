package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// indexCmd rebuilds the artifacts of an existing extraction root.
var indexCmd = &cobra.Command{
	Use:   "index [root]",
	Short: "Rebuild structure.json and schemas.json of an extraction root",
	Long:  `Walks an already extracted root and rewrites its manifest and corrected schemas. Useful after files were added or removed by hand.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		p, err := newPipeline()
		if err != nil {
			return err
		}
		root := rootArg(args, 0)
		getLogger().Info("Reindexing extraction root", "root", root)

		report := p.Reindex(ctx, root)
		renderReport(cmd.OutOrStdout(), "Index", report)
		if !report.Success {
			return fmt.Errorf("reindex failed: %w", report.Err())
		}
		return nil
	},
}
