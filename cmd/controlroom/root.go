// ABOUTME: Root cobra command with global flags, config loading and the shared engine bootstrap.
// ABOUTME: openEngine wires logger, run store, recipes, tools, optional SQLite index and the runner.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/2389-research/controlroom/config"
	"github.com/2389-research/controlroom/logging"
	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/pipeline/index"
	"github.com/2389-research/controlroom/toolbox"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// app carries global flag values and the loaded config to subcommands.
type app struct {
	configFile string
	workspace  string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "controlroom",
		Short: "Run and inspect recipe pipelines",
		Long: `Controlroom executes recipes: ordered lists of tool steps whose arguments
may reference task inputs or earlier step outputs. Every run is persisted
under the workspace and can be inspected, watched live or served over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default is ./controlroom.yaml or $XDG_CONFIG_HOME/controlroom/controlroom.yaml)")
	root.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", "", "workspace directory (default is $XDG_DATA_HOME/controlroom)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newRunsCmd(a),
		newRecipesCmd(a),
		newIndexCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workspace") {
		v.Set("workspace", a.workspace)
	}
	if cmd.Flags().Changed("log-level") {
		v.Set("log.level", a.logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// engine is everything a command needs to start or inspect runs.
type engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *pipeline.FSRunStore
	recipes *pipeline.RecipeRegistry
	tools   *toolbox.Registry
	index   *index.Index
	runner  *pipeline.Runner

	closers []io.Closer
}

// openEngine builds the engine. Logs go to logOut unless log.file is set.
func (a *app) openEngine(logOut io.Writer) (*engine, error) {
	cfg := a.cfg
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Writer: logOut,
	})
	if err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		e.Close()
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	e.store, err = pipeline.NewFSRunStore(cfg.RunsDir(), logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.recipes = pipeline.NewRecipeRegistry(pipeline.BundledRecipes(), cfg.Workspace, logger)
	report := e.recipes.Reload()
	logger.Debug("recipes: loaded", "bundled", report.Bundled, "project", report.Project, "skipped", len(report.Skipped))

	e.tools, err = toolbox.NewRegistry(cfg.Workspace, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	var observer pipeline.ManifestObserver
	if cfg.Index.Enabled {
		e.index, err = index.Open(cfg.IndexPath(), logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, e.index)
		observer = e.index
	}

	e.runner = pipeline.NewRunner(pipeline.RunnerConfig{
		Recipes:      e.recipes,
		Store:        e.store,
		Tools:        e.tools,
		Logger:       logger,
		Observer:     observer,
		PreviewLimit: cfg.Pipeline.PreviewLimit,
	})
	return e, nil
}

// Close waits for in-process runs, then releases the index and log file.
func (e *engine) Close() error {
	if e.runner != nil {
		e.runner.Wait()
	}
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
