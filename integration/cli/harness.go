//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the b2restore binary once and runs it against an archive
// and an output directory owned by the test.
type Harness struct {
	t       *testing.T
	binary  string
	Archive string
	Output  string
}

// NewHarness creates a new test harness with empty archive and output
// directories.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	dir := t.TempDir()
	return &Harness{
		t:       t,
		binary:  filepath.Join(dir, "b2restore"),
		Archive: filepath.Join(dir, "archive"),
		Output:  filepath.Join(dir, "output"),
	}
}

// Build compiles the binary under test
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}
	h.t.Logf("Building %s from %s", h.binary, projectRoot)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/b2restore")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Run executes the binary with args. HOME is pointed at an empty directory
// so no user configuration leaks into the test.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Env = append(os.Environ(), "HOME="+h.t.TempDir(), "TZ=UTC")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	require.NoError(h.t, err, "run failed")
	require.Zero(h.t, exitCode, "b2restore failed\nstdout: %s\nstderr: %s\nargs: %v", stdout, stderr, args)
	return stdout, stderr
}

// Restore runs b2restore from the archive into the output directory.
func (h *Harness) Restore(ctx context.Context, flags ...string) string {
	h.t.Helper()
	args := append(append([]string{"--tz", "UTC"}, flags...), h.Archive, h.Output)
	stdout, stderr := h.MustRun(ctx, args...)
	h.t.Logf("stdout: %s", stdout)
	h.t.Logf("stderr: %s", stderr)
	return stdout
}

// WriteArchiveFile writes a file into the archive and sets its mtime
func (h *Harness) WriteArchiveFile(rel, content string, mtime time.Time) {
	h.t.Helper()
	writeFile(h.t, filepath.Join(h.Archive, filepath.FromSlash(rel)), content, mtime)
}

// WriteOutputFile writes a file into the output directory
func (h *Harness) WriteOutputFile(rel, content string) {
	h.t.Helper()
	writeFile(h.t, filepath.Join(h.Output, filepath.FromSlash(rel)), content, time.Now())
}

// ReadOutput reads a file from the output directory
func (h *Harness) ReadOutput(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.Output, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// OutputExists checks if a path exists in the output directory
func (h *Harness) OutputExists(rel string) bool {
	_, err := os.Stat(filepath.Join(h.Output, filepath.FromSlash(rel)))
	return err == nil
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755), "mkdir parent")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "write file")
	require.NoError(t, os.Chtimes(path, mtime, mtime), "chtimes")
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
