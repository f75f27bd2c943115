package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/bookharvest/config"
)

// app carries state shared by subcommands once the root has initialised.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	logFile io.Closer
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "bookharvest",
		Short: "Concurrent scraper for paginated book catalogs",
		Long: `bookharvest walks the catalog pages of books.toscrape.com, fetches every
book detail page concurrently and saves the parsed records.

Configuration is read from defaults, an optional YAML file (--config),
a .env file and SCRAPER_* environment variables, then command line flags.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("log-file", config.DefaultConfig().LogFile, "Also write logs to this file (empty disables)")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	cmd.AddCommand(NewScrapeCmd(a))
	cmd.AddCommand(NewScheduleCmd(a))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := newLogger(os.Stdout, cfg.Verbose, cfg.LogFile)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.logFile = logFile
	return nil
}

func (a *app) close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}

// applyRunFlags copies run flags a subcommand defines onto cfg, but only when
// the user set them.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err != nil || flags.Lookup(name) == nil || !flags.Changed(name) {
			return
		}
		err = apply()
	}

	set("base-url", func() (e error) { cfg.BaseURL, e = flags.GetString("base-url"); return })
	set("timeout", func() (e error) { cfg.Timeout, e = flags.GetDuration("timeout"); return })
	set("output", func() (e error) { cfg.OutputFile, e = flags.GetString("output"); return })
	set("format", func() (e error) { cfg.OutputFormat, e = flags.GetString("format"); return })
	set("redis-addr", func() (e error) { cfg.RedisAddr, e = flags.GetString("redis-addr"); return })
	set("at", func() (e error) { cfg.ScheduleAt, e = flags.GetString("at"); return })
	set("poll", func() (e error) { cfg.PollInterval, e = flags.GetDuration("poll"); return })
	set("no-save", func() error {
		noSave, e := flags.GetBool("no-save")
		cfg.Persist = !noSave
		return e
	})
	set("concurrency", func() error {
		n, e := flags.GetInt("concurrency")
		if cmd.Name() == "schedule" {
			cfg.ScheduledConcurrency = n
		} else {
			cfg.Concurrency = n
		}
		return e
	})
	return err
}
