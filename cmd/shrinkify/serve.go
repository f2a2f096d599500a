package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/config"
	"github.com/jackzampolin/shrinkify/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Shrinkify server",
	Long: `Start the Shrinkify HTTP server.

The server connects to BigQuery, the batch prediction service and the
cascade state store. With the postgres driver and no DSN configured it
also starts a local Postgres container and stops it again on shutdown.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (includes state store status)
  - /api/... - Catalog pickers, examples, prompt preview and runs
  - /events  - Completion trigger for batch prediction jobs
  - /metrics - Prometheus metrics

Examples:
  shrinkify serve                    # Start on default port 8080
  shrinkify serve --port 3000        # Start on custom port
  shrinkify serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		h, err := getHome()
		if err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(configFile(h))
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cfgMgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
