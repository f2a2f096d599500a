package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// CleanupLabel marks containers started by tests. Its value is the test name.
const CleanupLabel = "shrinkify-test"

// TestingT is the part of testing.T the docker helpers need.
type TestingT interface {
	Name() string
	Cleanup(func())
	Logf(format string, args ...any)
	Helper()
}

// SkippingT is a TestingT that can skip.
type SkippingT interface {
	TestingT
	Skipf(format string, args ...any)
}

// DockerClient returns a client for the local daemon and removes the test's
// labelled containers when it finishes. The test is skipped without Docker.
func DockerClient(t SkippingT) *client.Client {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		t.Skipf("docker is not running: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := removeLabelled(ctx, cli, CleanupLabel+"="+t.Name())
		for _, name := range removed {
			t.Logf("removed test container %s", name)
		}
		if err != nil {
			t.Logf("container cleanup: %v", err)
		}
	})
	return cli
}

// UniqueContainerName returns shrinkify-test-<prefix>-<test>-<random>.
func UniqueContainerName(t TestingT, prefix string) string {
	t.Helper()
	return fmt.Sprintf("%s-%s-%s-%s", CleanupLabel, prefix, sanitizeName(t.Name()), randString(4))
}

// ContainerLabels returns the labels DockerClient's cleanup looks for.
func ContainerLabels(t TestingT) map[string]string {
	return map[string]string{CleanupLabel: t.Name()}
}

// CleanupAllTestContainers removes every container carrying CleanupLabel,
// whichever test started it. Used from TestMain after interrupted runs.
func CleanupAllTestContainers(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()
	_, err = removeLabelled(ctx, cli, CleanupLabel)
	return err
}

// removeLabelled stops and removes containers matching a label filter and
// returns the names it removed. It keeps going past individual failures.
func removeLabelled(ctx context.Context, cli *client.Client, label string) ([]string, error) {
	list, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var (
		removed  []string
		firstErr error
	)
	stopTimeout := 10
	for _, c := range list {
		name := c.ID[:12]
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &stopTimeout})
		err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", name, err)
			}
			continue
		}
		removed = append(removed, name)
	}
	return removed, firstErr
}

func randString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sanitizeName keeps a test name usable inside a container name.
func sanitizeName(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '/', r == '_', r == '-':
			return '-'
		}
		return -1
	}, name)
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}
