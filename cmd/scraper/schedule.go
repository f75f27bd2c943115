package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/bookharvest/config"
	"github.com/aluiziolira/bookharvest/scheduler"
)

// NewScheduleCmd creates the daily trigger command.
func NewScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Scrape and save the catalog once a day",
		Long: `Stay in the foreground and run a full scrape every day at the given
local time. Results are always saved. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSchedule(ctx, a.cfg, a.logger)
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.String("at", defaults.ScheduleAt, "Daily trigger time, 24h HH:MM local")
	flags.Duration("poll", defaults.PollInterval, "How often to check whether the trigger is due")
	flags.IntP("concurrency", "c", defaults.ScheduledConcurrency, "Maximum detail pages fetched at once")
	flags.String("base-url", defaults.BaseURL, "Catalog base URL")
	flags.StringP("output", "o", defaults.OutputFile, "Output file path")
	flags.String("format", defaults.OutputFormat, "Output formats, comma separated: json, jsonl, csv, sqlite, redis")
	flags.String("redis-addr", defaults.RedisAddr, "Redis address for the redis format")
	return cmd
}

func runSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Scheduled runs always persist.
	cfg.Persist = true

	s, err := newScraper(cfg, logger)
	if err != nil {
		return err
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, s.Metrics, logger)
	defer stopMetrics()

	job := func(ctx context.Context) error {
		result, err := s.Run(ctx, cfg.ScheduledConcurrency, true)
		if err != nil {
			return err
		}
		logger.Info("scheduled scrape saved",
			slog.Int("books", result.SucceededCount()),
			slog.Int("failed", result.FailedCount),
		)
		return nil
	}

	sched, err := scheduler.New(cfg.ScheduleAt, job,
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithLogger(logger.With(slog.String("component", "scheduler"))),
	)
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}
