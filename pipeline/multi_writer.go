package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/bookharvest/models"
)

// namedWriter pairs a writer with the format it serves, for error messages.
type namedWriter struct {
	format string
	writer OutputWriter
}

// MultiWriter fans every batch out to several writers.
type MultiWriter struct {
	writers []namedWriter
	mu      sync.Mutex
}

// NewMultiWriter combines writers keyed by format name, in the given order.
func NewMultiWriter(formats []string, writers []OutputWriter) (*MultiWriter, error) {
	if len(formats) != len(writers) {
		return nil, fmt.Errorf("multi writer: %d formats for %d writers", len(formats), len(writers))
	}
	mw := &MultiWriter{}
	for i, w := range writers {
		mw.writers = append(mw.writers, namedWriter{format: formats[i], writer: w})
	}
	return mw, nil
}

// Write writes books to every writer, stopping at the first failure.
func (mw *MultiWriter) Write(books []models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, nw := range mw.writers {
		if err := nw.writer.Write(books); err != nil {
			return fmt.Errorf("%s write failed: %w", nw.format, err)
		}
	}
	return nil
}

// Close closes every writer and reports all failures.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, nw := range mw.writers {
		if err := nw.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close failed: %w", nw.format, err))
		}
	}
	return errors.Join(errs...)
}

// Abort discards every writer that supports it and closes the rest.
func (mw *MultiWriter) Abort() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, nw := range mw.writers {
		if err := discard(nw.writer); err != nil {
			errs = append(errs, fmt.Errorf("%s abort failed: %w", nw.format, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, nw := range mw.writers {
		if err := nw.writer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation failed: %w", nw.format, err))
		}
	}
	return errors.Join(errs...)
}
