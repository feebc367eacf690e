package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/schaermu/b2restore/internal/config"
	"github.com/schaermu/b2restore/internal/report"
	"github.com/schaermu/b2restore/internal/restore"
	"github.com/schaermu/b2restore/internal/timefmt"
	"github.com/schaermu/b2restore/internal/timeline"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Restore flags
	timeStr    string
	fileTime   string
	summary    bool
	gitKeep    bool
	preserve   []string
	pathFilter string
	strategy   string
	tz         string
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "b2restore [flags] INDIR [OUTDIR]",
	Short: "Restore a file tree from a versioned B2 archive",
	Long: `b2restore rebuilds the directory tree stored in a B2 "keep all versions"
archive as it was at a given point in time.

Superseded files carry a version suffix in their name
(report-v2023-01-01-120000-000.txt). For every logical file the variant that
was current at the requested time is linked or copied into OUTDIR; files that
did not exist at that time are removed from OUTDIR.`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE:         runRestore,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("b2restore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/b2restore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Restore flags
	rootCmd.Flags().StringVarP(&timeStr, "time", "t", "", "target time YYYY-MM-DD[THH:MM[.SS]] (default latest)")
	rootCmd.Flags().StringVarP(&fileTime, "filetime", "f", "", "use the modification time of this file as target time")
	rootCmd.Flags().BoolVarP(&summary, "summary", "s", false, "list every file and its versions without changing anything")
	rootCmd.Flags().BoolVarP(&gitKeep, "gitkeep", "g", false, "preserve top-level .git* entries in OUTDIR")
	rootCmd.Flags().StringSliceVar(&preserve, "preserve", nil, "additional top-level glob patterns to preserve in OUTDIR")
	rootCmd.Flags().StringVarP(&pathFilter, "path", "p", "", "only process files under this relative path prefix")
	rootCmd.Flags().StringVar(&strategy, "strategy", "", "how files are placed: link, copy or auto (default link)")
	rootCmd.Flags().StringVar(&tz, "tz", "", "time zone for --time and output (default Local)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	rootCmd.MarkFlagsMutuallyExclusive("time", "filetime")

	rootCmd.AddCommand(versionCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	inDir := args[0]
	if err := requireDir(inDir, "INDIR"); err != nil {
		return err
	}

	q, err := resolveQuery(loc)
	if err != nil {
		return err
	}

	opts := restore.Options{
		ArchiveDir: inDir,
		PathFilter: cfg.Archive.Path,
		Query:      q,
		Strategy:   cfg.Output.Strategy,
		Preserve:   cfg.Output.Preserve,
		DryRun:     dryRun,
	}
	reporter := report.New(cmd.OutOrStdout(), loc)
	fsys := afero.NewOsFs()

	if summary {
		idx, err := restore.NewEngine(fsys, opts, reporter, logger).Index()
		if err != nil {
			return err
		}
		return reporter.Summary(idx)
	}

	if len(args) < 2 {
		return errors.New("OUTDIR is required unless --summary is given")
	}
	opts.OutputDir = args[1]
	if err := checkOutput(opts.ArchiveDir, opts.OutputDir, cfg.Output.Strategy); err != nil {
		return err
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine := restore.NewEngine(fsys, opts, reporter, logger)
	if _, err := engine.Run(ctx); err != nil {
		logger.Error("restore failed", "error", err)
		return err
	}

	return nil
}

// applyFlags overrides configuration values with explicitly given flags.
func applyFlags(cfg *config.Config) error {
	if strategy != "" {
		cfg.Output.Strategy = config.Strategy(strategy)
	}
	if tz != "" {
		cfg.Time.Location = tz
	}
	if pathFilter != "" {
		cfg.Archive.Path = pathFilter
	}
	if gitKeep {
		cfg.AddPreserve(config.GitPreserve)
	}
	for _, p := range preserve {
		cfg.AddPreserve(p)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// resolveQuery turns --time or --filetime into a timeline query.
func resolveQuery(loc *time.Location) (timeline.Query, error) {
	switch {
	case timeStr != "":
		t, err := timefmt.Parse(timeStr, loc)
		if err != nil {
			return timeline.Query{}, err
		}
		return timeline.At(t), nil
	case fileTime != "":
		info, err := os.Stat(fileTime)
		if err != nil {
			return timeline.Query{}, fmt.Errorf("failed to read --filetime: %w", err)
		}
		return timeline.At(info.ModTime()), nil
	default:
		return timeline.Latest(), nil
	}
}

func requireDir(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %s is not a directory", what, path)
	}
	return nil
}

// checkOutput validates OUTDIR before anything is written to it.
func checkOutput(inDir, outDir string, s config.Strategy) error {
	if _, err := os.Stat(outDir); err == nil {
		if err := requireDir(outDir, "OUTDIR"); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("OUTDIR %s: %w", outDir, err)
	}

	absIn, err := filepath.Abs(inDir)
	if err != nil {
		return err
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return err
	}
	if absIn == absOut {
		return errors.New("INDIR and OUTDIR must differ")
	}

	if s == config.StrategyLink {
		same, err := restore.SameDevice(inDir, outDir)
		if err != nil {
			return fmt.Errorf("failed to compare devices: %w", err)
		}
		if !same {
			return errors.New("INDIR and OUTDIR are on different devices; use --strategy copy")
		}
	}
	return nil
}

func setupLogger() *slog.Logger {
	return newLogger(os.Stderr)
}

func newLogger(w io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// An explicitly named file must exist, the default one is optional.
	if cfgFile != "" {
		logger.Debug("loading configuration", "path", cfgFile)
		return config.Load(cfgFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Debug("no home directory, using default configuration", "error", err)
		return config.Default(), nil
	}
	configPath := filepath.Join(home, ".config", "b2restore", "config.yaml")

	logger.Debug("loading configuration", "path", configPath)
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"strategy", cfg.Output.Strategy,
		"preserve", cfg.Output.Preserve,
		"location", cfg.Time.Location)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
