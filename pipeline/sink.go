// Package pipeline persists scraped books through a batching pipeline into
// one or more output formats.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/bookharvest/config"
	"github.com/aluiziolira/bookharvest/models"
)

// Sink writes a finished run to every configured format.
type Sink struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSink builds a sink for cfg.OutputFormat.
func NewSink(cfg *config.Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{cfg: cfg, logger: logger, now: time.Now}
}

// OutputPath returns where a file format is written. json uses the
// configured output file as is; other file formats swap its extension.
func (s *Sink) OutputPath(format string) string {
	if format == "json" {
		return s.cfg.OutputFile
	}
	ext := map[string]string{"jsonl": ".jsonl", "csv": ".csv", "sqlite": ".db"}[format]
	base := strings.TrimSuffix(s.cfg.OutputFile, filepath.Ext(s.cfg.OutputFile))
	return base + ext
}

// Persist streams books through a fresh pipeline into freshly opened
// writers, then closes and validates them.
func (s *Sink) Persist(ctx context.Context, books []models.Book) error {
	runID := s.now().UTC().Format("20060102T150405.000000000Z")
	formats := s.cfg.Formats()

	writer, err := s.open(ctx, formats, runID)
	if err != nil {
		return err
	}

	if err := s.write(writer, books); err != nil {
		return err
	}

	for _, format := range formats {
		target := s.cfg.RedisStream
		if format != "redis" {
			target = s.OutputPath(format)
		}
		s.logger.Info("results saved",
			slog.String("format", format),
			slog.String("target", target),
			slog.Int("books", len(books)),
			slog.String("run_id", runID),
		)
	}
	return nil
}

// write pushes books through a pipeline into writer. A failed run is
// discarded so the previous output stays in place.
func (s *Sink) write(writer OutputWriter, books []models.Book) error {
	p := NewPipeline(writer, s.cfg.PipelineBufferSize, s.cfg.BatchSize, s.logger)
	p.Start(s.cfg.SinkWorkers)

	var errs []error
	if err := p.Process(books...); err != nil {
		errs = append(errs, fmt.Errorf("queue books: %w", err))
	}
	if err := p.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		if err := discard(writer); err != nil {
			errs = append(errs, fmt.Errorf("discard output: %w", err))
		}
		return errors.Join(errs...)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	return nil
}

// aborter is implemented by writers that can drop a run without publishing it.
type aborter interface {
	Abort() error
}

func discard(w OutputWriter) error {
	if a, ok := w.(aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

func (s *Sink) open(ctx context.Context, formats []string, runID string) (OutputWriter, error) {
	writers := make([]OutputWriter, 0, len(formats))
	closeAll := func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}

	for _, format := range formats {
		w, err := s.openFormat(ctx, format, runID)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s output: %w", format, err)
		}
		writers = append(writers, w)
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	mw, err := NewMultiWriter(formats, writers)
	if err != nil {
		closeAll()
		return nil, err
	}
	return mw, nil
}

func (s *Sink) openFormat(ctx context.Context, format, runID string) (OutputWriter, error) {
	switch format {
	case "json":
		return NewJSONArrayWriter(s.OutputPath(format))
	case "jsonl":
		return NewJSONLWriter(s.OutputPath(format))
	case "csv":
		return NewCSVWriter(s.OutputPath(format))
	case "sqlite":
		return NewSQLiteWriter(ctx, s.OutputPath(format), runID)
	case "redis":
		return NewRedisWriter(ctx, s.cfg.RedisAddr, s.cfg.RedisDB, s.cfg.RedisStream, runID)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
