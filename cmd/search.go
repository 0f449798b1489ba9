package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/search"
)

var (
	searchRoot     string
	searchParallel int
	searchTimeout  time.Duration
	searchJSON     bool
)

type searchFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type searchOutput struct {
	Query    string          `json:"query"`
	Files    int             `json:"files"`
	Source   string          `json:"source"`
	Results  []search.Match  `json:"results"`
	Failures []searchFailure `json:"failures,omitempty"`
}

// searchCmd runs a substring search over an extraction root.
var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the tables of an extraction root",
	Long: `Searches every tabular file of an extraction root for rows containing the query,
ignoring case. Files are listed from structure.json when present, otherwise the root is walked.
Files that cannot be read are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return errors.New("search query cannot be empty")
		}

		timeout := cfg.TaskTimeout
		if cmd.Flags().Changed("timeout") {
			timeout = searchTimeout
		}
		engine, err := newEngine(searchParallel, timeout)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		root := rootArg([]string{searchRoot}, 0)
		getLogger().Info("Searching", "query", query, "root", root, "workers", engine.Workers())
		res, err := engine.Search(ctx, query, root)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		res.Sort()

		if searchJSON {
			out := searchOutput{Query: query, Files: res.Files, Source: string(res.Source), Results: res.Matches}
			for _, f := range res.Failures {
				out.Failures = append(out.Failures, searchFailure{File: f.File, Error: f.Err.Error()})
			}
			return printJSON(cmd.OutOrStdout(), out)
		}
		renderMatches(cmd.OutOrStdout(), query, res)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchRoot, "root", "r", "", "Extraction root to search (defaults to the whole extraction directory)")
	searchCmd.Flags().IntVarP(&searchParallel, "parallel", "p", 2, "Files searched concurrently")
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 0, "Deadline per file, 0 disables it (defaults to task_timeout)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print matches as JSON")
}
