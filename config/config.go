package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL              string        `yaml:"base_url"`
	Concurrency          int           `yaml:"concurrency"`
	ScheduledConcurrency int           `yaml:"scheduled_concurrency"`
	Timeout              time.Duration `yaml:"timeout"`
	ProgressEvery        int           `yaml:"progress_every"`
	PageGuardSize        int           `yaml:"page_guard_size"`
	Persist              bool          `yaml:"persist"`
	OutputFile           string        `yaml:"output_file"`
	OutputFormat         string        `yaml:"output_format"` // comma separated: json, jsonl, csv, sqlite, redis
	PipelineBufferSize   int           `yaml:"pipeline_buffer_size"`
	BatchSize            int           `yaml:"batch_size"`
	SinkWorkers          int           `yaml:"sink_workers"`
	RedisAddr            string        `yaml:"redis_addr"`
	RedisDB              int           `yaml:"redis_db"`
	RedisStream          string        `yaml:"redis_stream"`
	ScheduleAt           string        `yaml:"schedule_at"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	LogFile              string        `yaml:"log_file"`
	Verbose              bool          `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:              "http://books.toscrape.com/catalogue",
		Concurrency:          10,
		ScheduledConcurrency: 5,
		Timeout:              10 * time.Second,
		ProgressEvery:        100,
		PageGuardSize:        0,
		Persist:              true,
		OutputFile:           "artifacts/books_data.txt",
		OutputFormat:         "json",
		PipelineBufferSize:   256,
		BatchSize:            64,
		SinkWorkers:          1,
		RedisAddr:            "localhost:6379",
		RedisDB:              0,
		RedisStream:          "books",
		ScheduleAt:           "19:00",
		PollInterval:         60 * time.Second,
		MetricsAddr:          "",
		LogFile:              "scraper.log",
		Verbose:              false,
	}
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var knownFormats = map[string]bool{
	"json":   true,
	"jsonl":  true,
	"csv":    true,
	"sqlite": true,
	"redis":  true,
}

// Formats splits OutputFormat into its normalised parts.
func (c *Config) Formats() []string {
	var out []string
	for _, part := range strings.Split(c.OutputFormat, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.ScheduledConcurrency <= 0 {
		return fmt.Errorf("scheduled concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}
	if c.PageGuardSize < 0 {
		return fmt.Errorf("page guard size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}

	formats := c.Formats()
	if len(formats) == 0 {
		return fmt.Errorf("output format cannot be empty")
	}
	for _, format := range formats {
		if !knownFormats[format] {
			return fmt.Errorf("output format %q must be one of json, jsonl, csv, sqlite, redis", format)
		}
		if format == "redis" && (c.RedisAddr == "" || c.RedisStream == "") {
			return fmt.Errorf("redis output requires redis addr and stream")
		}
	}

	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.SinkWorkers <= 0 {
		return fmt.Errorf("sink workers must be positive")
	}
	if !clockPattern.MatchString(c.ScheduleAt) {
		return fmt.Errorf("schedule time %q must be HH:MM", c.ScheduleAt)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	return nil
}
