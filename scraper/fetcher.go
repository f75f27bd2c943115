package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/aluiziolira/bookharvest/models"
	"github.com/aluiziolira/bookharvest/parser"
)

// maxBodySize caps how much of a detail page is read.
const maxBodySize = 10 * 1024 * 1024

// Fetcher retrieves one detail page and parses it into a book.
type Fetcher struct {
	client  *http.Client
	rules   parser.BookRules
	logger  *slog.Logger
	metrics *Metrics
}

// NewFetcher builds a fetcher with a per-request timeout.
func NewFetcher(timeout time.Duration, transport http.RoundTripper, logger *slog.Logger, metrics *Metrics) *Fetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		rules:   parser.DefaultBookRules(),
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch performs a single GET of rawURL. Every failure comes back as one of
// DetailFetchError, DetailParseError or UnexpectedError and has already been
// logged; a panic during parsing is recovered into an UnexpectedError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (book models.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			book = models.Book{}
			err = UnexpectedError{URL: rawURL, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			f.logger.Error("book scrape failed",
				slog.String("url", rawURL),
				slog.String("category", category(err)),
				slog.Any("error", err),
			)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Book{}, UnexpectedError{URL: rawURL, Err: err}
	}

	f.metrics.IncRequest("detail")
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return models.Book{}, DetailFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	f.metrics.ObserveDuration("detail", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Book{}, DetailFetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: errStatus(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return models.Book{}, DetailFetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var reader io.Reader = bytes.NewReader(body)
	enc, name, certain := charset.DetermineEncoding(body, resp.Header.Get("Content-Type"))
	// Sniffing only sees the first KB; an undeclared body that is valid UTF-8 stays as is.
	if name != "utf-8" && (certain || !utf8.Valid(body)) {
		reader = enc.NewDecoder().Reader(reader)
	}

	book, err = parser.ParseBook(reader, f.rules)
	if err != nil {
		return models.Book{}, DetailParseError{URL: rawURL, Err: err}
	}
	return book, nil
}
