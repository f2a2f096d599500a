package testutil

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"
)

// StateDBTestConfig holds state database container settings without
// importing the statedb package.
type StateDBTestConfig struct {
	ContainerName string
	HostPort      string
	DataPath      string
	Labels        map[string]string
}

// NewStateDBConfig returns container settings with a unique name and a free
// port. It skips the test when Docker is unavailable or -short is set.
func NewStateDBConfig(t *testing.T) StateDBTestConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}
	_ = DockerClient(t)

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	return StateDBTestConfig{
		ContainerName: UniqueContainerName(t, "statedb"),
		HostPort:      port,
		DataPath:      t.TempDir(),
		Labels:        ContainerLabels(t),
	}
}

// Logger returns a text logger for tests that want server output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// WaitForShutdown waits for a channel to receive a value or timeout.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
