package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the shrinkify home directory.
	DefaultDirName = ".shrinkify"

	// StateDBDirName is the subdirectory holding the local cascade state database.
	StateDBDirName = "statedb"

	// ExamplesDirName is the subdirectory for exported example sheets.
	ExamplesDirName = "examples"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the shrinkify home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.shrinkify).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// StateDBPath returns the host path mounted into the local Postgres container.
func (d *Dir) StateDBPath() string {
	return filepath.Join(d.path, StateDBDirName)
}

// ExamplesPath returns the directory for example sheets.
func (d *Dir) ExamplesPath() string {
	return filepath.Join(d.path, ExamplesDirName)
}

// ExamplesSheetPath returns the sheet path for a source table.
// Dots and slashes in the names are flattened so the file stays in ExamplesPath.
func (d *Dir) ExamplesSheetPath(dataset, table string) string {
	name := strings.NewReplacer("/", "_", ".", "_").Replace(dataset + "__" + table)
	return filepath.Join(d.ExamplesPath(), name+".xlsx")
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.StateDBPath(), d.ExamplesPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
