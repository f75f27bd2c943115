package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load builds a configuration from defaults, an optional YAML file and the
// SCRAPER_* environment, in that order of precedence (later wins). An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrConfigNotFound)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any SCRAPER_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok, err := EnvInt("SCRAPER_CONCURRENCY"); err != nil {
		return err
	} else if ok {
		cfg.Concurrency = v
	}
	if v, ok, err := EnvInt("SCRAPER_SCHEDULED_CONCURRENCY"); err != nil {
		return err
	} else if ok {
		cfg.ScheduledConcurrency = v
	}
	if v, ok, err := EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok, err := EnvInt("SCRAPER_PAGE_GUARD_SIZE"); err != nil {
		return err
	} else if ok {
		cfg.PageGuardSize = v
	}
	if v, ok := EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = v
	}
	if v, ok := EnvString("SCRAPER_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := EnvString("SCRAPER_REDIS_STREAM"); ok {
		cfg.RedisStream = v
	}
	if v, ok := EnvString("SCRAPER_SCHEDULE_AT"); ok {
		cfg.ScheduleAt = v
	}
	if v, ok, err := EnvDuration("SCRAPER_POLL_INTERVAL"); err != nil {
		return err
	} else if ok {
		cfg.PollInterval = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("SCRAPER_LOG_FILE"); ok {
		cfg.LogFile = v
	}
	return nil
}

// EnvString returns the trimmed value of key if it is set and non-empty.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a time.Duration ("10s", "1m").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}
