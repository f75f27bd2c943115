package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/bookharvest/config"
	"github.com/aluiziolira/bookharvest/models"
)

type staticSource struct {
	urls []string
}

func (s staticSource) Collect(context.Context) Catalog {
	return Catalog{URLs: s.urls, Pages: 1, StopReason: models.StopEmptyPage}
}

type stubFetcher struct {
	fail     map[string]bool
	panics   map[string]bool
	delay    time.Duration
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *stubFetcher) Fetch(ctx context.Context, u string) (models.Book, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[u] {
		panic("parser exploded")
	}
	if f.fail[u] {
		return models.Book{}, DetailFetchError{URL: u, StatusCode: 404, Err: errStatus(404)}
	}
	return models.Book{Title: "Book " + u, ProductInfo: map[string]string{}}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	calls int
	books []models.Book
	err   error
}

func (s *recordingSink) Persist(_ context.Context, books []models.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.books = append([]models.Book(nil), books...)
	return s.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.Timeout = time.Second
	return cfg
}

func titles(books []models.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	sort.Strings(out)
	return out
}

func TestRunAggregatesSuccessesOnly(t *testing.T) {
	fetcher := &stubFetcher{fail: map[string]bool{"2": true}}
	s, err := NewScraper(testConfig(), WithSource(staticSource{urls: []string{"1", "2", "3"}}), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := strings.Join(titles(result.Books), ","); got != "Book 1,Book 3" {
		t.Fatalf("titles = %s, want Book 1,Book 3", got)
	}
	if result.RequestedCount != 3 || result.FailedCount != 1 || result.SucceededCount() != 2 {
		t.Fatalf("counts = requested %d failed %d succeeded %d", result.RequestedCount, result.FailedCount, result.SucceededCount())
	}
	if result.FailuresByType["not_found"] != 1 {
		t.Fatalf("failures by type = %v", result.FailuresByType)
	}
	if result.EndTime.Before(result.StartTime) {
		t.Fatal("end time precedes start time")
	}
}

func TestRunEmptyCatalog(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	s, err := NewScraper(testConfig(), WithSource(staticSource{}), WithFetcher(fetcher), WithSink(sink))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 4, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Books == nil || len(result.Books) != 0 {
		t.Fatalf("books = %#v, want empty non-nil slice", result.Books)
	}
	if fetcher.calls.Load() != 0 {
		t.Fatalf("fetcher called %d times for an empty catalog", fetcher.calls.Load())
	}
	if sink.calls != 0 {
		t.Fatalf("sink called %d times for an empty catalog", sink.calls)
	}
}

func TestRunPersistsAggregate(t *testing.T) {
	sink := &recordingSink{}
	s, err := NewScraper(testConfig(),
		WithSource(staticSource{urls: []string{"a", "b"}}),
		WithFetcher(&stubFetcher{}),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	if _, err := s.Run(context.Background(), 2, true); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d, want 1", sink.calls)
	}
	if got := strings.Join(titles(sink.books), ","); got != "Book a,Book b" {
		t.Fatalf("persisted titles = %s", got)
	}
}

func TestRunSkipsPersistWhenDisabled(t *testing.T) {
	sink := &recordingSink{}
	s, err := NewScraper(testConfig(),
		WithSource(staticSource{urls: []string{"a"}}),
		WithFetcher(&stubFetcher{}),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	if _, err := s.Run(context.Background(), 1, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.calls != 0 {
		t.Fatalf("sink calls = %d, want 0", sink.calls)
	}
}

func TestRunReturnsPersistError(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	s, err := NewScraper(testConfig(),
		WithSource(staticSource{urls: []string{"a"}}),
		WithFetcher(&stubFetcher{}),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 1, true)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
	if result == nil || len(result.Books) != 1 {
		t.Fatalf("result should still carry the aggregate")
	}
}

func TestRunIsolatesPanickingFetch(t *testing.T) {
	fetcher := &stubFetcher{panics: map[string]bool{"bad": true}}
	s, err := NewScraper(testConfig(), WithSource(staticSource{urls: []string{"ok", "bad", "fine"}}), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 2, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(titles(result.Books), ","); got != "Book fine,Book ok" {
		t.Fatalf("titles = %s", got)
	}
	if result.FailuresByType["unexpected"] != 1 {
		t.Fatalf("failures by type = %v", result.FailuresByType)
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("u%d", i)
	}
	fetcher := &stubFetcher{delay: 5 * time.Millisecond}
	s, err := NewScraper(testConfig(), WithSource(staticSource{urls: urls}), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Books) != len(urls) {
		t.Fatalf("books = %d, want %d", len(result.Books), len(urls))
	}
	if peak := fetcher.peak.Load(); peak > 3 {
		t.Fatalf("peak in-flight fetches = %d, want <= 3", peak)
	}
}

func TestRunCancelledSkipsPersist(t *testing.T) {
	sink := &recordingSink{}
	s, err := NewScraper(testConfig(),
		WithSource(staticSource{urls: []string{"a", "b"}}),
		WithFetcher(&stubFetcher{}),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx, 2, true); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.calls != 0 {
		t.Fatalf("sink calls = %d, want 0 after cancellation", sink.calls)
	}
}

func TestRunEndToEndWithMockTransport(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/page-1.html", htmlResponder(buildCatalogPage("one/index.html", "two/index.html", "gone/index.html")))
	transport.RegisterResponder("GET", testBase+"/page-2.html", htmlResponder(buildCatalogPage()))
	transport.RegisterResponder("GET", testBase+"/one/index.html", htmlResponder(detailHTML))
	transport.RegisterResponder("GET", testBase+"/two/index.html", htmlResponder(strings.Replace(detailHTML, "A Light in the Attic</h1>", "Tipping the Velvet</h1>", 1)))
	transport.RegisterResponder("GET", testBase+"/gone/index.html", httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	s, err := NewScraper(testConfig(), WithTransport(transport))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	result, err := s.Run(context.Background(), 2, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := strings.Join(titles(result.Books), ","); got != "A Light in the Attic,Tipping the Velvet" {
		t.Fatalf("titles = %s", got)
	}
	if result.RequestedCount != 3 || result.FailedCount != 1 {
		t.Fatalf("requested %d failed %d", result.RequestedCount, result.FailedCount)
	}
	if result.FailuresByType["not_found"] != 1 {
		t.Fatalf("failures by type = %v", result.FailuresByType)
	}
	if result.StopReason != models.StopEmptyPage || result.PageCount != 1 {
		t.Fatalf("stop reason %q pages %d", result.StopReason, result.PageCount)
	}
	for _, b := range result.Books {
		if b.Price != "£51.77" || b.Rating != "Three" {
			t.Fatalf("unexpected record %+v", b)
		}
	}
}
