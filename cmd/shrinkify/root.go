package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logFormat    string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "shrinkify",
	Short: "Shorten product titles in bulk with batch LLM predictions",
	Long: `Shrinkify rewrites product titles from a BigQuery table into short titles
that fit a character limit.

A run works like this:
  - The source table is split into chunks of a fixed row count
  - Each chunk is submitted as a batch prediction job
  - When a job finishes, its results are appended to the output table
    and the next chunk is submitted

Examples and a prompt preview help tune the output before starting a run.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.shrinkify/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "shrinkify home directory (default: ~/.shrinkify)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log format: text or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger from --log-format and --log-level.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
