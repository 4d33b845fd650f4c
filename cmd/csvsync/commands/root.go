// Package commands implements the csvsync command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/JonMunkholm/csvsync/internal/config"
	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/JonMunkholm/csvsync/internal/core/tables"
	"github.com/JonMunkholm/csvsync/internal/logging"
	"github.com/JonMunkholm/csvsync/internal/manifest"
	"github.com/JonMunkholm/csvsync/internal/store/pgstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// openStore connects the store runs use. Tests swap it for the memory store.
var openStore = func(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	pool, err := pgstore.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := pgstore.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// app is the state shared by every command of one invocation.
type app struct {
	cfg      *config.Config
	registry *core.Registry
	silent   bool
	debug    bool
}

// Execute runs the root command and prints failures the way users see them.
func Execute() error {
	root := newRootCmd(core.DefaultRegistry)
	err := root.Execute()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func newRootCmd(registry *core.Registry) *cobra.Command {
	a := &app{registry: registry}

	root := &cobra.Command{
		Use:           "csvsync",
		Short:         "Import CSV files into the database and export tables back to CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().BoolVar(&a.silent, "silent", false, "suppress progress output")
	root.PersistentFlags().BoolVar(&a.debug, "dbg", false, "log at debug level")

	root.AddCommand(a.importCmd(), a.exportCmd(), a.backupCmd(), a.modelsCmd(), a.serveCmd())
	return root
}

// setup loads .env and the configuration, configures logging and registers
// manifest definitions.
func (a *app) setup() error {
	// Overload lets .env win over variables already exported in the shell
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	switch {
	case a.debug:
		level = "debug"
	case a.silent && logging.ParseLevel(level) < slog.LevelWarn:
		level = "warn"
	}
	logging.Setup(level, cfg.Logging.Format)
	if envErr != nil {
		slog.Debug("no .env file loaded", "error", envErr)
	}
	slog.Debug("configuration loaded", "config", cfg.String())

	if cfg.Files.DefinitionsFile != "" {
		imps, exps, err := manifest.LoadInto(cfg.Files.DefinitionsFile, a.registry, manifest.Processors{
			Import: tables.ImportProcessors(),
			Export: tables.ExportProcessors(),
		})
		if err != nil {
			return err
		}
		slog.Debug("manifest loaded", "file", cfg.Files.DefinitionsFile, "importers", imps, "exporters", exps)
	}
	return nil
}

// service opens the store and builds a service over it. The returned
// function releases the store.
func (a *app) service(ctx context.Context) (*core.Service, func(), error) {
	store, closeStore, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := core.NewService(store, a.registry, core.ServiceConfig{
		CSVDir:        a.cfg.Files.CSVDir,
		BackupDir:     a.cfg.Files.BackupDir,
		RunTimeout:    a.cfg.Run.Timeout,
		MaxConcurrent: a.cfg.Run.MaxConcurrent,
		MaxWait:       a.cfg.Run.MaxWaitTime,
	})
	return svc, closeStore, nil
}

// models resolves a model argument for kind. When the name is unknown the
// valid names are printed and ok is false.
func (a *app) models(w io.Writer, kind core.RunKind, model string) (names []string, ok bool, err error) {
	var valid []string
	switch kind {
	case core.RunImport:
		if valid, err = a.registry.ImporterNames(); err != nil {
			return nil, false, err
		}
	case core.RunExport:
		valid = a.registry.ExporterNames()
	default:
		valid = a.registry.ModelNames()
	}

	if model != core.AllModels && !slices.Contains(valid, model) {
		fmt.Fprintf(w, "Invalid model: %s\nValid models: %s, %s\n", model, core.AllModels, strings.Join(valid, ", "))
		return nil, false, nil
	}
	names, err = a.registry.Expand(kind, model)
	return names, err == nil, err
}

func (a *app) printf(w io.Writer, format string, args ...any) {
	if !a.silent {
		fmt.Fprintf(w, format, args...)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}
