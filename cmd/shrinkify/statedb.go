package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/config"
	"github.com/jackzampolin/shrinkify/internal/home"
	"github.com/jackzampolin/shrinkify/internal/statedb"
)

var statedbCmd = &cobra.Command{
	Use:   "statedb",
	Short: "Manage the local Postgres state database",
	Long: `Manage the local Postgres container that holds cascade state.

The container is used when store.driver is postgres and no store.dsn is
configured. Data is persisted to ~/.shrinkify/statedb/.

Examples:
  shrinkify statedb start    # Start the container and apply migrations
  shrinkify statedb stop     # Stop the container (data preserved)
  shrinkify statedb status   # Check container status
  shrinkify statedb logs     # View container logs`,
}

var statedbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the state database container",
	Long: `Start the state database container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
Once Postgres accepts connections the cascade schema is migrated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getDockerManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting state database...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start state database: %w", err)
		}

		if err := migrate(ctx, mgr.DSN()); err != nil {
			return err
		}

		fmt.Printf("State database is running at %s\n", mgr.DSN())
		return nil
	},
}

var statedbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the state database container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getDockerManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping state database...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop state database: %w", err)
		}

		fmt.Println("State database stopped")
		return nil
	},
}

var statedbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show state database container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getDockerManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case statedb.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("DSN: %s\n", mgr.DSN())
		case statedb.StatusStopped:
			fmt.Printf("Status: %s (use 'shrinkify statedb start' to start)\n", status)
		case statedb.StatusNotFound:
			fmt.Printf("Status: %s (use 'shrinkify statedb start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var statedbLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show state database container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getDockerManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var statedbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the state database container",
	Long: `Remove the state database container.

This stops and removes the container. Data in ~/.shrinkify/statedb/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getDockerManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing state database container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("State database container removed (data preserved)")
		return nil
	},
}

func init() {
	statedbCmd.AddCommand(statedbStartCmd)
	statedbCmd.AddCommand(statedbStopCmd)
	statedbCmd.AddCommand(statedbStatusCmd)
	statedbCmd.AddCommand(statedbLogsCmd)
	statedbCmd.AddCommand(statedbRemoveCmd)

	statedbLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(statedbCmd)
}

// getDockerManager creates a DockerManager from the store.container settings.
func getDockerManager(h *home.Dir) (*statedb.DockerManager, error) {
	cfgMgr, err := config.NewManager(configFile(h))
	if err != nil {
		return nil, err
	}
	c := cfgMgr.Get().Store.Container

	dataPath := h.StateDBPath()
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return statedb.NewDockerManager(statedb.DockerConfig{
		ContainerName: c.ContainerName,
		Image:         c.Image,
		DataPath:      dataPath,
		HostPort:      c.Port,
		Password:      c.Password,
	})
}

// migrate applies the cascade schema to the database at dsn.
func migrate(ctx context.Context, dsn string) error {
	store := cascade.OpenPostgres(cascade.PostgresConfig{DSN: dsn, Logger: newLogger()})
	defer store.Close()

	if err := store.WaitReady(ctx, 30); err != nil {
		return fmt.Errorf("state database not ready: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	return nil
}
