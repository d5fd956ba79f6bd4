package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/andreyvit/itemdb"
)

type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	cfg        Config

	flagDB      string
	flagJournal string
	flagVerbose bool
	flagLock    string
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "itemdb",
		Short: "Inspect an item repository",
		Long: `Reads an item repository and its commit journal.

Settings come from itemdb.toml in the current directory (or --config),
overridden by flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to config file (default ./itemdb.toml if present)")
	pf.StringVar(&a.flagDB, "db", "", "path to the repository file")
	pf.StringVar(&a.flagJournal, "journal-dir", "", "commit journal directory")
	pf.BoolVarP(&a.flagVerbose, "verbose", "v", false, "log every database operation")
	pf.StringVar(&a.flagLock, "lock-timeout", "", "how long to wait for the database lock, e.g. 5s")

	rootCmd.AddCommand(
		a.checkCmd(),
		a.dumpCmd(),
		a.versionsCmd(),
		a.kindsCmd(),
		a.findCmd(),
		a.journalCmd(),
	)
	return rootCmd
}

func (a *app) configure(cmd *cobra.Command) error {
	path, required := a.configPath, true
	if path == "" {
		path, required = defaultConfigFile, false
	}
	cfg, err := loadConfig(path, required)
	if err != nil {
		return err
	}
	a.cfg = *cfg

	flags := cmd.Flags()
	if flags.Changed("db") {
		a.cfg.DB = a.flagDB
	}
	if flags.Changed("journal-dir") {
		a.cfg.JournalDir = a.flagJournal
	}
	if flags.Changed("verbose") {
		a.cfg.Verbose = a.flagVerbose
	}
	if flags.Changed("lock-timeout") {
		d, err := parseDuration(a.flagLock)
		if err != nil {
			return fmt.Errorf("--lock-timeout: %w", err)
		}
		a.cfg.LockTimeout = d
	}
	return nil
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelInfo
	if a.cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
}

// open opens the configured repository with an empty registry, so the
// persisted schema is loaded.
func (a *app) open() (*itemdb.Repository, error) {
	if a.cfg.DB == "" {
		return nil, fmt.Errorf("no repository specified\n\nUse --db <file> or set db in %s", defaultConfigFile)
	}
	return itemdb.Open(a.cfg.DB, itemdb.NewRegistry(), itemdb.Options{
		Logger:      a.logger(),
		Verbose:     a.cfg.Verbose,
		LockTimeout: a.cfg.LockTimeout,
	})
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
