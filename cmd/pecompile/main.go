package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/pecompile"
	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/ctxlog"
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

// cli holds the persistent flags and the state PersistentPreRunE derives
// from them.
type cli struct {
	db        string
	config    string
	format    string
	logLevel  string
	logFormat string

	file   *config.File
	logger *slog.Logger
	stderr io.Writer // progress lines and logs
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "pecompile",
		Short:         "Compile PolicyEngine formulas into standalone modules",
		Long:          "pecompile indexes a PolicyEngine-style rule set into SQLite and compiles the closure of chosen variables into a self-contained Python, JavaScript, TypeScript or Risor module.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		// No Run; prints help by default.
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.db, "db", "", "database path (default: .pecompile/rules.db relative to repo root)")
	pf.StringVar(&c.config, "config", "", "project file (default: pecompile.toml in the repo root)")
	pf.StringVar(&c.format, "format", "json", "output format: json|text")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug|info|warn|error (default: info)")
	pf.StringVar(&c.logFormat, "log-format", "", "log format: text|json (default: text)")

	root.AddCommand(c.indexCmd())
	root.AddCommand(c.compileCmd())
	root.AddCommand(c.planCmd())
	root.AddCommand(c.evalCmd())
	root.AddCommand(c.queryCmd())
	root.AddCommand(versionCmd())
	return root
}

// setup validates the persistent flags, loads the project file and builds
// the logger. Flags win over the project file.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := validateFormat(c.format); err != nil {
		return err
	}
	c.stderr = cmd.ErrOrStderr()
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}
	path := c.config
	if path == "" {
		path = filepath.Join(findRepoRoot(cwd), "pecompile.toml")
	}
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	c.file = f

	level, format := f.Log.Level, f.Log.Format
	if c.logLevel != "" {
		level = c.logLevel
	}
	if c.logFormat != "" {
		format = c.logFormat
	}
	c.logger = ctxlog.New(level, format, c.stderr)
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), c.logger))
	return nil
}

func (c *cli) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- index ---

func (c *cli) indexCmd() *cobra.Command {
	var force, serial bool
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a rule set",
		Long:  "Parses variable classes and parameter trees under path and writes them to the SQLite database. Unchanged files are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			targetDir, err := resolveTargetDir(args)
			if err != nil {
				return c.outputError(cmd, "index", err)
			}
			dbPath := c.resolveDBPath(findRepoRoot(targetDir))
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return c.outputError(cmd, "index", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
			}

			engine, err := pecompile.New(dbPath, pecompile.WithConfig(c.file.Table()), pecompile.WithParallel(!serial))
			if err != nil {
				return c.outputError(cmd, "index", fmt.Errorf("creating engine: %w", err))
			}
			defer engine.Close()

			res, err := engine.IndexDirectory(c.context(cmd), targetDir, force)
			if err != nil && res == nil {
				return c.outputError(cmd, "index", fmt.Errorf("indexing: %w", err))
			}
			fmt.Fprintf(c.stderr, "Indexed %s in %s\n", targetDir, time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(c.stderr, "Database: %s\n", dbPath)
			if outErr := c.outputResult(cmd, CLIResult{Command: "index", Results: res}); outErr != nil {
				return outErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-index files even when unchanged")
	cmd.Flags().BoolVar(&serial, "serial", false, "parse files on a single worker")
	return cmd
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pecompile version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pecompile %s\n", pecompile.Version)
		},
	}
}

// --- Helpers ---

// openEngine opens the Engine on an existing database.
func (c *cli) openEngine() (*pecompile.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	dbPath := c.resolveDBPath(findRepoRoot(cwd))
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'pecompile index' first)", dbPath)
	}
	return pecompile.New(dbPath, pecompile.WithConfig(c.file.Table()))
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func (c *cli) resolveDBPath(repoRoot string) string {
	if c.db != "" {
		if filepath.IsAbs(c.db) {
			return c.db
		}
		return filepath.Join(repoRoot, c.db)
	}
	return filepath.Join(repoRoot, ".pecompile", "rules.db")
}
