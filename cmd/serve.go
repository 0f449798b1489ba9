package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/server"
)

var listenAddr string

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve upload, search and manifest endpoints over HTTP",
	Long: `Starts the HTTP API. Archives posted to /upload are saved in the upload directory and
ingested in the background; /search and /detailed_search query the extraction directory.
The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}

		p, err := newPipeline()
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg.SearchWorkers, cfg.TaskTimeout)
		if err != nil {
			return err
		}
		srv, err := server.New(cfg, p, engine, getLogger())
		if err != nil {
			return err
		}
		defer srv.Close()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (defaults to listen_addr)")
}
