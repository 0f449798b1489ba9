package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/inspector"
)

var inspectJSON bool

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [root]",
	Short: "Inspect row counts and column types of extracted tables using DuckDB",
	Long:  `Opens an in-memory DuckDB and reads every tabular file of an extraction root with read_csv. It shows the row count, the inferred column types and the corrected column names for each file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		insp, err := inspector.Open(corrector, logger)
		if err != nil {
			return err
		}
		defer insp.Close()

		root := rootArg(args, 0)
		summaries, inspectErr := insp.InspectRoot(ctx, root, cfg.TabularExtensions)

		if inspectJSON {
			if err := printJSON(cmd.OutOrStdout(), summaries); err != nil {
				return err
			}
		} else {
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				if s.Err != nil {
					rows = append(rows, []string{s.File, "-", errorStyle.Render(s.Err.Error())})
					continue
				}
				cols := make([]string, 0, len(s.Columns))
				for _, c := range s.Columns {
					name := c.Name
					if c.Canonical != "" && c.Canonical != c.Name {
						name = fmt.Sprintf("%s→%s", c.Name, c.Canonical)
					}
					cols = append(cols, name+" "+infoStyle.Render(c.Type))
				}
				rows = append(rows, []string{s.File, strconv.FormatInt(s.Rows, 10), strings.Join(cols, "\n")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Inspect")+" "+infoStyle.Render(root))
			renderTable(cmd.OutOrStdout(), []string{"file", "rows", "columns"}, rows)
		}

		if inspectErr != nil {
			return fmt.Errorf("inspection failed: %w", inspectErr)
		}
		logger.Info("Table inspection completed successfully.")
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the summaries as JSON")
}
