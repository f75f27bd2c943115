package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/bookharvest/models"
)

// Catalog is the outcome of walking the paginated listing.
type Catalog struct {
	URLs       []string
	Pages      int
	StopReason models.StopReason
}

// Collector walks catalog pages one at a time and gathers detail links.
type Collector struct {
	base      *url.URL
	timeout   time.Duration
	transport http.RoundTripper
	guardSize int
	logger    *slog.Logger
	metrics   *Metrics
}

// NewCollector builds a collector for catalog pages under baseURL.
func NewCollector(baseURL string, timeout time.Duration, transport http.RoundTripper, guardSize int, logger *slog.Logger, metrics *Metrics) (*Collector, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{
		base:      parsed,
		timeout:   timeout,
		transport: transport,
		guardSize: guardSize,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// PageURL returns the address of catalog page n.
func (c *Collector) PageURL(n int) string {
	return fmt.Sprintf("%spage-%d.html", c.base.String(), n)
}

// Collect fetches page-1, page-2, ... until a page has no items or cannot be
// fetched. Fetch failures end pagination; they are logged, not returned.
func (c *Collector) Collect(ctx context.Context) Catalog {
	var (
		catalog   Catalog
		items     int
		pageLinks []string
	)

	collector := c.newColly(ctx)
	collector.OnHTML("article.product_pod", func(e *colly.HTMLElement) {
		items++
		href := strings.TrimSpace(e.ChildAttr("h3 a", "href"))
		if href == "" {
			return
		}
		abs, err := c.resolve(href)
		if err != nil {
			c.logger.Debug("skipping unparsable link", slog.String("href", href), slog.Any("error", err))
			return
		}
		pageLinks = append(pageLinks, abs)
	})

	var seen *lru.Cache[string, int]
	if c.guardSize > 0 {
		seen, _ = lru.New[string, int](c.guardSize)
	}

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			catalog.StopReason = models.StopCancelled
			break
		}

		items = 0
		pageLinks = pageLinks[:0]
		pageURL := c.PageURL(page)

		if err := collector.Visit(pageURL); err != nil {
			fetchErr := CatalogFetchError{Page: page, URL: pageURL, Err: err}
			c.metrics.IncError("catalog")
			if ctx.Err() != nil {
				catalog.StopReason = models.StopCancelled
				break
			}
			// Indistinguishable from a transient outage; the stop reason
			// lets callers tell it apart from a clean empty page.
			c.logger.Info("catalog pagination stopped",
				slog.Int("page", page),
				slog.String("reason", string(models.StopFetchError)),
				slog.Any("error", fetchErr),
			)
			catalog.StopReason = models.StopFetchError
			break
		}

		if items == 0 {
			c.logger.Info("catalog pagination stopped",
				slog.Int("page", page),
				slog.String("reason", string(models.StopEmptyPage)),
			)
			catalog.StopReason = models.StopEmptyPage
			break
		}

		if seen != nil && len(pageLinks) > 0 {
			fp := fingerprint(pageLinks)
			if first, ok := seen.Get(fp); ok {
				c.logger.Warn("catalog page repeats an earlier page",
					slog.Int("page", page),
					slog.Int("first_seen", first),
				)
				catalog.StopReason = models.StopRepeated
				break
			}
			seen.Add(fp, page)
		}

		catalog.URLs = append(catalog.URLs, pageLinks...)
		catalog.Pages = page
		c.logger.Info("catalog page collected",
			slog.Int("page", page),
			slog.Int("books", items),
		)
	}

	return catalog
}

func (c *Collector) newColly(ctx context.Context) *colly.Collector {
	// An empty user agent keeps colly from sending its own header.
	collector := colly.NewCollector(colly.AllowURLRevisit(), colly.UserAgent(""))
	collector.SetRequestTimeout(c.timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(contextTransport{ctx: ctx, next: c.transport})

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		c.metrics.IncRequest("catalog")
	})
	collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			c.metrics.ObserveDuration("catalog", time.Since(start))
		}
	})
	return collector
}

func (c *Collector) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(ref).String(), nil
}

func fingerprint(links []string) string {
	sum := sha256.Sum256([]byte(strings.Join(links, "\n")))
	return hex.EncodeToString(sum[:])
}

// contextTransport binds outgoing requests to ctx so that cancelling a run
// aborts an in-flight catalog fetch.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}
