package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-shrinkify")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-shrinkify" {
			t.Errorf("expected path /tmp/test-shrinkify, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-shrinkify")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"StateDBPath", dir.StateDBPath(), "/tmp/test-shrinkify/statedb"},
		{"ExamplesPath", dir.ExamplesPath(), "/tmp/test-shrinkify/examples"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-shrinkify/config.yaml"},
		{"ExamplesSheetPath", dir.ExamplesSheetPath("retail.eu", "feed/v2"), "/tmp/test-shrinkify/examples/retail_eu__feed_v2.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "shrinkify-test")

	dir, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	for _, sub := range []string{dir.StateDBPath(), dir.ExamplesPath()} {
		if _, err := os.Stat(sub); os.IsNotExist(err) {
			t.Errorf("%s should exist after EnsureExists", sub)
		}
	}

	// Idempotent
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("second EnsureExists failed: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("config should not exist yet")
	}
}
