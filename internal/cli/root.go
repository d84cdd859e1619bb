package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/deduce/internal/config"
	"github.com/roach88/deduce/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool

	// Config is resolved before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deduce CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "deduce",
		Short: "deduce - a deductive database",
		Long: `A deductive database: stored relations in versioned SQLite tables,
queried with recursive Datalog rules written in CUE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Config = cfg
			setupLogging(cmd, opts)
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.String("db", "deduce.db", "path to the SQLite database")
	flags.String("format", "text", fmt.Sprintf("output format %v", ValidFormats))
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.Int("max-rounds", engine.DefaultMaxRounds, "fixpoint round limit per query, 0 for none")
	flags.Int("parallelism", 0, "rules evaluated concurrently per round, 0 for GOMAXPROCS")
	flags.Int("plan-cache-size", engine.DefaultPlanCacheSize, "compiled plans kept in memory, 0 disables the cache")

	// Add subcommands
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewRelationsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setupLogging installs a text handler on stderr at the configured level;
// --verbose forces debug.
func setupLogging(cmd *cobra.Command, opts *RootOptions) {
	level, _ := opts.Config.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Config.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// openDB opens the configured database with the configured engine options.
func (o *RootOptions) openDB() (*engine.DB, error) {
	slog.Debug("opening database", "path", o.Config.Database)
	db, err := engine.Open(o.Config.Database, o.Config.EngineOptions()...)
	if err != nil {
		return nil, WrapExitError(ExitIOError, "failed to open database", err)
	}
	return db, nil
}

// closeDB closes db, logging rather than returning the error so that it
// never masks the command's own result.
func closeDB(db *engine.DB) {
	if err := db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
