package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/bookharvest/config"
	"github.com/aluiziolira/bookharvest/models"
	"github.com/aluiziolira/bookharvest/pipeline"
	"github.com/aluiziolira/bookharvest/scraper"
)

// NewScrapeCmd creates the one-shot scrape command.
func NewScrapeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the whole catalog once",
		Long: `Collect every detail page link from the catalog, fetch the pages
concurrently and save the records (unless --no-save is given).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScrape(ctx, a.cfg, a.logger, cmd.OutOrStdout())
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.IntP("concurrency", "c", defaults.Concurrency, "Maximum detail pages fetched at once")
	flags.String("base-url", defaults.BaseURL, "Catalog base URL")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout")
	flags.StringP("output", "o", defaults.OutputFile, "Output file path")
	flags.String("format", defaults.OutputFormat, "Output formats, comma separated: json, jsonl, csv, sqlite, redis")
	flags.String("redis-addr", defaults.RedisAddr, "Redis address for the redis format")
	flags.Bool("no-save", false, "Do not persist the results")
	return cmd
}

func runScrape(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	s, err := newScraper(cfg, logger)
	if err != nil {
		return err
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, s.Metrics, logger)
	defer stopMetrics()

	logger.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("workers", cfg.Concurrency),
		slog.Bool("persist", cfg.Persist),
	)

	result, err := s.Run(ctx, cfg.Concurrency, cfg.Persist)
	if ctx.Err() != nil {
		logger.Info("scrape interrupted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	output := ""
	if cfg.Persist {
		output = strings.Join(outputTargets(cfg), ", ")
	}
	printSummary(out, result, output)
	return nil
}

func newScraper(cfg *config.Config, logger *slog.Logger) (*scraper.Scraper, error) {
	opts := []scraper.Option{scraper.WithLogger(logger)}
	if cfg.Persist {
		opts = append(opts, scraper.WithSink(pipeline.NewSink(cfg, logger.With(slog.String("component", "sink")))))
	}
	s, err := scraper.NewScraper(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising scraper: %w", err)
	}
	return s, nil
}

func outputTargets(cfg *config.Config) []string {
	sink := pipeline.NewSink(cfg, nil)
	var targets []string
	for _, format := range cfg.Formats() {
		if format == "redis" {
			targets = append(targets, "redis stream "+cfg.RedisStream)
			continue
		}
		targets = append(targets, sink.OutputPath(format))
	}
	return targets
}

// serveMetrics exposes the scraper registry when addr is set. The returned
// func shuts the server down.
func serveMetrics(addr string, metrics *scraper.Metrics, logger *slog.Logger) func() {
	if addr == "" || metrics == nil {
		return func() {}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, result *models.ScrapeResult, output string) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Scrape complete")
	fmt.Fprintf(w, "  Catalog pages: %d (stopped: %s)\n", result.PageCount, result.StopReason)
	fmt.Fprintf(w, "  Books found:   %d\n", result.RequestedCount)
	fmt.Fprintf(w, "  Scraped:       %d\n", result.SucceededCount())
	successRate := 0.0
	if result.RequestedCount > 0 {
		successRate = float64(result.SucceededCount()) / float64(result.RequestedCount) * 100
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Failed:        %d\n", result.FailedCount)
	if len(result.FailuresByType) > 0 {
		types := make([]string, 0, len(result.FailuresByType))
		for label, n := range result.FailuresByType {
			types = append(types, fmt.Sprintf("%s=%d", label, n))
		}
		sort.Strings(types)
		fmt.Fprintf(w, "  Error types:   %s\n", strings.Join(types, " "))
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	if duration.Seconds() > 0 {
		fmt.Fprintf(w, "  Items/sec:     %.2f\n", float64(result.SucceededCount())/duration.Seconds())
	}
	if output != "" {
		fmt.Fprintf(w, "  Output:        %s\n", output)
	}
	fmt.Fprintln(w, separator)
}
