package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/b2restore/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag global to its default for the duration of
// the test and points HOME at an empty directory.
func resetFlags(t *testing.T) {
	t.Helper()

	origCfgFile, origLevel, origFormat := cfgFile, logLevel, logFormat
	origTime, origFileTime, origSummary := timeStr, fileTime, summary
	origGitKeep, origPreserve, origPath := gitKeep, preserve, pathFilter
	origStrategy, origTZ, origDryRun := strategy, tz, dryRun
	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = origCfgFile, origLevel, origFormat
		timeStr, fileTime, summary = origTime, origFileTime, origSummary
		gitKeep, preserve, pathFilter = origGitKeep, origPreserve, origPath
		strategy, tz, dryRun = origStrategy, origTZ, origDryRun
	})

	cfgFile, logLevel, logFormat = "", "error", "text"
	timeStr, fileTime, summary = "", "", false
	gitKeep, preserve, pathFilter = false, nil, ""
	strategy, tz, dryRun = "", "UTC", false

	t.Setenv("HOME", t.TempDir())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeArchive creates a small archive with one live file and one file that
// was renamed away at 12:00 UTC.
func writeArchive(t *testing.T) string {
	t.Helper()
	in := filepath.Join(t.TempDir(), "archive")

	files := []struct {
		path    string
		content string
		mod     time.Time
	}{
		{"docs/report.txt", "first draft", time.Date(2023, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"docs/report-v2023-01-01-120000-000.txt", "final draft", time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"notes.md", "notes", time.Date(2023, 1, 1, 7, 0, 0, 0, time.UTC)},
	}
	for _, f := range files {
		p := filepath.Join(in, filepath.FromSlash(f.path))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(f.content), 0644))
		require.NoError(t, os.Chtimes(p, f.mod, f.mod))
	}
	return in
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	err := runRestore(cmd, args)
	return buf.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSetupLogger(t *testing.T) {
	resetFlags(t)

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			assert.NotNil(t, setupLogger())
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	resetFlags(t)
	logLevel, logFormat = "info", "json"

	var buf bytes.Buffer
	newLogger(&buf).Debug("hidden")
	newLogger(&buf).Info("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"key":"value"`)
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	resetFlags(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`output:
  strategy: copy
  preserve: [".git*"]
time:
  location: UTC
`)
	require.NoError(t, os.WriteFile(cfgPath, content, 0o600))
	cfgFile = cfgPath

	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)
	assert.Equal(t, config.StrategyCopy, cfg.Output.Strategy)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	resetFlags(t)
	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := loadConfig(testLogger())
	assert.Error(t, err)
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	resetFlags(t)

	// HOME points at an empty directory, so the defaults apply.
	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)
	assert.Equal(t, config.StrategyLink, cfg.Output.Strategy)
}

func TestLoadConfig_DefaultPathPresent(t *testing.T) {
	resetFlags(t)

	dir := filepath.Join(os.Getenv("HOME"), ".config", "b2restore")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("output:\n  strategy: auto\n"), 0o600))

	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)
	assert.Equal(t, config.StrategyAuto, cfg.Output.Strategy)
}

func TestApplyFlags(t *testing.T) {
	resetFlags(t)
	strategy = "copy"
	tz = "Europe/Zurich"
	pathFilter = "docs/"
	gitKeep = true
	preserve = []string{"keep-*", ".git*"}

	cfg := config.Default()
	require.NoError(t, applyFlags(cfg))

	assert.Equal(t, config.StrategyCopy, cfg.Output.Strategy)
	assert.Equal(t, "Europe/Zurich", cfg.Time.Location)
	assert.Equal(t, "docs/", cfg.Archive.Path)
	assert.Equal(t, []string{".git*", "keep-*"}, cfg.Output.Preserve)

	strategy = "rsync"
	assert.Error(t, applyFlags(config.Default()))
}

func TestResolveQuery(t *testing.T) {
	resetFlags(t)

	q, err := resolveQuery(time.UTC)
	require.NoError(t, err)
	assert.True(t, q.IsLatest())

	timeStr = "2023-01-01T11:00"
	q, err = resolveQuery(time.UTC)
	require.NoError(t, err)
	want := time.Date(2023, 1, 1, 11, 0, 59, 999999999, time.UTC)
	assert.True(t, q.Time().Equal(want), "query time = %v, want %v", q.Time(), want)

	timeStr = "yesterday"
	_, err = resolveQuery(time.UTC)
	assert.Error(t, err)

	timeStr = ""
	ref := filepath.Join(t.TempDir(), "ref")
	require.NoError(t, os.WriteFile(ref, nil, 0644))
	mod := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(ref, mod, mod))
	fileTime = ref
	q, err = resolveQuery(time.UTC)
	require.NoError(t, err)
	assert.True(t, q.Time().Equal(mod), "query time = %v, want %v", q.Time(), mod)

	fileTime = filepath.Join(t.TempDir(), "missing")
	_, err = resolveQuery(time.UTC)
	assert.Error(t, err)
}

func TestRunRestore(t *testing.T) {
	resetFlags(t)
	in := writeArchive(t)
	out := filepath.Join(t.TempDir(), "out")

	timeStr = "2023-01-01T11:00"
	progress, err := run(t, in, out)
	require.NoError(t, err)
	assert.Equal(t, "final draft", readFile(t, filepath.Join(out, "docs", "report.txt")))
	assert.Contains(t, progress, "creating 2023-01-01T09:00.00: docs/report.txt\n")

	// The report was renamed away at 12:00.
	timeStr = "2023-01-01T12:00"
	_, err = run(t, in, out)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(out, "docs"))
	assert.Equal(t, "notes", readFile(t, filepath.Join(out, "notes.md")))
}

func TestRunRestore_GitKeep(t *testing.T) {
	resetFlags(t)
	in := writeArchive(t)
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, ".git", "HEAD"), []byte("ref"), 0644))

	gitKeep = true
	_, err := run(t, in, out)
	require.NoError(t, err)
	assert.Equal(t, "ref", readFile(t, filepath.Join(out, ".git", "HEAD")))
}

func TestRunRestore_DryRun(t *testing.T) {
	resetFlags(t)
	in := writeArchive(t)
	out := filepath.Join(t.TempDir(), "out")

	dryRun = true
	progress, err := run(t, in, out)
	require.NoError(t, err)
	assert.Contains(t, progress, "creating 2023-01-01T07:00.00: notes.md\n")
	assert.NoDirExists(t, out, "dry run must not create OUTDIR")
}

func TestRunRestore_Summary(t *testing.T) {
	resetFlags(t)
	in := writeArchive(t)

	summary = true
	listing, err := run(t, in)
	require.NoError(t, err)

	want := "docs/report.txt:\n" +
		"  2023-01-01T08:00.00 ----- current -----       11 B\n" +
		"  2023-01-01T09:00.00 2023-01-01T12:00.00       11 B\n" +
		"notes.md:\n" +
		"  2023-01-01T07:00.00 ----- current -----        5 B\n"
	assert.Equal(t, want, listing)
}

func TestRunRestore_Preconditions(t *testing.T) {
	in := writeArchive(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	tests := []struct {
		name  string
		args  []string
		setup func()
	}{
		{name: "missing indir", args: []string{filepath.Join(t.TempDir(), "nope"), t.TempDir()}},
		{name: "indir is a file", args: []string{file, t.TempDir()}},
		{name: "missing outdir", args: []string{in}},
		{name: "outdir is a file", args: []string{in, file}},
		{name: "same directory", args: []string{in, in}},
		{name: "bad time", args: []string{in, t.TempDir()}, setup: func() { timeStr = "2023-13-01" }},
		{name: "missing filetime", args: []string{in, t.TempDir()}, setup: func() { fileTime = file + ".missing" }},
		{name: "bad zone", args: []string{in, t.TempDir()}, setup: func() { tz = "Mars/Olympus" }},
		{name: "missing config", args: []string{in, t.TempDir()}, setup: func() { cfgFile = file + ".yaml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resetFlags(t)
			if tc.setup != nil {
				tc.setup()
			}
			_, err := run(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestRootCmd_TimeAndFileTimeExclusive(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	in := writeArchive(t)
	rootCmd.SetArgs([]string{"--time", "2023-01-01", "--filetime", in, in, t.TempDir()})
	rootCmd.SetErr(&bytes.Buffer{})
	assert.Error(t, rootCmd.Execute())
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	require.NotNil(t, ctx)

	cancel()

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	assert.NotPanics(t, func() { versionCmd.Run(versionCmd, []string{}) })
}
