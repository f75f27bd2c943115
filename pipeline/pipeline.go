package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/bookharvest/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for pending batches.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(books []models.Book) error
	Close() error
	Validate() error
}

// Pipeline batches books from producers into an OutputWriter.
type Pipeline struct {
	writer    OutputWriter
	bookCh    chan models.Book
	batchSize int
	logger    *slog.Logger

	wg sync.WaitGroup

	stats stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a bounded in-memory buffer.
func NewPipeline(writer OutputWriter, bufferSize, batchSize int, logger *slog.Logger) *Pipeline {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		writer:    writer,
		bookCh:    make(chan models.Book, bufferSize),
		batchSize: batchSize,
		logger:    logger,
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues books for downstream writing. It blocks while the buffer
// is full.
func (p *Pipeline) Process(books ...models.Book) error {
	if len(books) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, book := range books {
		if err := p.enqueue(book); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake and waits up to drainTimeout for workers to flush.
// The writer itself is left open.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.bookCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Err()
	case <-time.After(drainTimeout):
		p.logger.Error("pipeline drain timed out", slog.Duration("timeout", drainTimeout))
		return ErrPipelineCloseTimeout
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Written int64
	Batches int64
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() Stats {
	return p.stats.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.GetMetrics()
				p.logger.Info("pipeline progress", slog.Int64("written", s.Written), slog.Int64("batches", s.Batches))
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Book, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.stats.add(len(batch))
		batch = batch[:0]
		return nil
	}

	for book := range p.bookCh {
		batch = append(batch, book)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) enqueue(book models.Book) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.bookCh <- book:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.bookCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type stats struct {
	mu      sync.Mutex
	written int64
	batches int64
}

func (s *stats) add(n int) {
	s.mu.Lock()
	s.written += int64(n)
	s.batches++
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Written: s.written, Batches: s.batches}
}
