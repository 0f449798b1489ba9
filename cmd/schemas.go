package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/schema"
)

var (
	schemasRefresh bool
	schemasColumns []string
)

// schemasCmd shows corrected schemas, or how single column names would be corrected.
var schemasCmd = &cobra.Command{
	Use:   "schemas [root]",
	Short: "Show the corrected schemas of an extraction root",
	Long: `Prints the corrected column names stored in schemas.json of an extraction root.
With --refresh the headers are read again instead. With --column the given names are matched
against the canonical catalog and their best match and similarity are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		out := cmd.OutOrStdout()

		if len(schemasColumns) > 0 {
			rows := make([][]string, 0, len(schemasColumns))
			for _, raw := range schemasColumns {
				best, score := corrector.BestMatch(raw)
				corrected := raw
				if score > corrector.Threshold() {
					corrected = best
				}
				rows = append(rows, []string{raw, best, strconv.Itoa(score), corrected})
			}
			renderTable(out, []string{"raw", "best match", "similarity", "result"}, rows)
			return nil
		}

		root := rootArg(args, 0)
		var (
			schemas schema.Schemas
			err     error
		)
		if schemasRefresh {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			var failures []*schema.ReadError
			schemas, failures = schema.ReadSchemas(ctx, root, corrector, getConfig().TabularExtensions, logger)
			for _, f := range failures {
				fmt.Fprintln(out, errorStyle.Render(f.Error()))
			}
		} else {
			schemas, err = schema.LoadSchemas(root)
			if err != nil {
				return fmt.Errorf("%w (run 'index' first or pass --refresh)", err)
			}
		}

		files := make([]string, 0, len(schemas))
		for f := range schemas {
			files = append(files, f)
		}
		sort.Strings(files)
		rows := make([][]string, 0, len(files))
		for _, f := range files {
			rows = append(rows, []string{f, strings.Join(schemas[f], ", ")})
		}
		fmt.Fprintln(out, titleStyle.Render("Schemas")+" "+infoStyle.Render(root))
		renderTable(out, []string{"file", "columns"}, rows)
		return nil
	},
}

func init() {
	schemasCmd.Flags().BoolVar(&schemasRefresh, "refresh", false, "Read the headers again instead of loading schemas.json")
	schemasCmd.Flags().StringSliceVar(&schemasColumns, "column", nil, "Column names to match against the canonical catalog (repeatable)")
}
