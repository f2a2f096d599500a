package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Shrinkify server via HTTP.

These commands require a running server (shrinkify serve).
Use --server to specify a custom server URL.

Examples:
  shrinkify api health                                  # Check server health
  shrinkify api catalog tables my_dataset               # List source tables
  shrinkify api examples sample my_dataset products --columns name,brand --xlsx
  shrinkify api runs create my_dataset products --industry retail --product-type shoes --examples ex.xlsx
  shrinkify api runs get <id>                           # Show run and chunk states`,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	endpoints.NewRegistry(endpoints.Config{}).AddCommands(apiCmd, getServerURL)
	rootCmd.AddCommand(apiCmd)
}
