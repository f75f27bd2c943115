package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/bookharvest/config"
	"github.com/aluiziolira/bookharvest/models"
)

// URLSource produces the ordered list of detail-page URLs.
type URLSource interface {
	Collect(ctx context.Context) Catalog
}

// DetailFetcher turns one URL into a book or a failure.
type DetailFetcher interface {
	Fetch(ctx context.Context, url string) (models.Book, error)
}

// Sink persists a finished aggregate.
type Sink interface {
	Persist(ctx context.Context, books []models.Book) error
}

// Scraper runs the collect, fan-out fetch and aggregate cycle.
type Scraper struct {
	cfg     *config.Config
	source  URLSource
	fetcher DetailFetcher
	sink    Sink
	logger  *slog.Logger
	Metrics *Metrics
}

// Option customises a Scraper.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *Metrics
	transport http.RoundTripper
	source    URLSource
	fetcher   DetailFetcher
	sink      Sink
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics shares an existing metrics bundle.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTransport replaces the HTTP transport used by the default collector
// and fetcher.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithSource replaces the catalog collector.
func WithSource(src URLSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithFetcher replaces the detail fetcher.
func WithFetcher(f DetailFetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithSink sets where persisted runs are written.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.transport == nil {
		o.transport = newTransport(cfg.Timeout)
	}

	if o.source == nil {
		collector, err := NewCollector(cfg.BaseURL, cfg.Timeout, o.transport, cfg.PageGuardSize, o.logger.With(slog.String("component", "collector")), o.metrics)
		if err != nil {
			return nil, err
		}
		o.source = collector
	}
	if o.fetcher == nil {
		o.fetcher = NewFetcher(cfg.Timeout, o.transport, o.logger.With(slog.String("component", "fetcher")), o.metrics)
	}

	return &Scraper{
		cfg:     cfg,
		source:  o.source,
		fetcher: o.fetcher,
		sink:    o.sink,
		logger:  o.logger,
		Metrics: o.metrics,
	}, nil
}

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

type outcome struct {
	url  string
	book models.Book
	err  error
}

// Run collects every detail URL, fetches them with at most concurrency
// requests in flight, and returns the books that parsed. Individual failures
// are counted, never returned; the only error is a failed persist.
// A concurrency <= 0 falls back to the configured default.
func (s *Scraper) Run(ctx context.Context, concurrency int, persist bool) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		concurrency = s.cfg.Concurrency
	}

	result := &models.ScrapeResult{
		Books:          []models.Book{},
		StartTime:      time.Now(),
		FailuresByType: make(map[string]int),
	}

	s.logger.Info("collecting book urls from catalog pages")
	catalog := s.source.Collect(ctx)
	result.RequestedCount = len(catalog.URLs)
	result.PageCount = catalog.Pages
	result.StopReason = catalog.StopReason
	s.logger.Info("catalog collected",
		slog.Int("books", len(catalog.URLs)),
		slog.Int("pages", catalog.Pages),
		slog.String("stop_reason", string(catalog.StopReason)),
	)

	if len(catalog.URLs) == 0 {
		s.logger.Info("no books found to scrape")
		result.EndTime = time.Now()
		return result, nil
	}

	s.logger.Info("scraping books", slog.Int("workers", concurrency))
	total := len(catalog.URLs)
	outcomes := make(chan outcome, concurrency)

	go s.dispatch(ctx, catalog.URLs, concurrency, outcomes)

	// This loop is the only writer to result.
	completed := 0
	every := s.cfg.ProgressEvery
	if every <= 0 {
		every = 100
	}
	for o := range outcomes {
		completed++
		if o.err == nil {
			result.Books = append(result.Books, o.book)
			s.Metrics.IncItems()
		} else {
			label := errorTypeLabel(o.err)
			s.logger.Debug("book dropped from aggregate", slog.String("url", o.url), slog.String("error_type", label))
			result.FailedCount++
			result.FailuresByType[label]++
			s.Metrics.IncError(label)
		}
		s.Metrics.SetProgress(completed, total)
		if completed%every == 0 {
			s.logger.Info("progress", slog.String("books", fmt.Sprintf("%d/%d", completed, total)))
		}
	}
	result.EndTime = time.Now()

	s.logger.Info("scrape finished",
		slog.Int("requested", total),
		slog.Int("succeeded", len(result.Books)),
		slog.Int("failed", result.FailedCount),
		slog.Int("skipped", total-completed),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)

	if !persist {
		return result, nil
	}
	if ctx.Err() != nil {
		s.logger.Warn("run cancelled, skipping persist", slog.Int("books", len(result.Books)))
		return result, nil
	}
	if s.sink == nil {
		return result, fmt.Errorf("persist requested but no sink configured")
	}
	if err := s.sink.Persist(ctx, result.Books); err != nil {
		return result, fmt.Errorf("persist results: %w", err)
	}
	return result, nil
}

// dispatch submits one fetch per URL, never more than limit at a time, and
// closes out once every started task has reported.
func (s *Scraper) dispatch(ctx context.Context, urls []string, limit int, out chan<- outcome) {
	defer close(out)

	var g errgroup.Group
	g.SetLimit(limit)
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			book, err := s.fetchOne(ctx, u)
			out <- outcome{url: u, book: book, err: err}
			return nil
		})
	}
	_ = g.Wait()
}

// fetchOne isolates a single URL so a misbehaving fetcher cannot take the
// pool down with it.
func (s *Scraper) fetchOne(ctx context.Context, u string) (book models.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = UnexpectedError{URL: u, Err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("book scrape failed",
				slog.String("url", u),
				slog.String("category", "unexpected"),
				slog.Any("error", err),
			)
		}
	}()
	return s.fetcher.Fetch(ctx, u)
}
