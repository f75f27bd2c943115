package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

const detailHTML = `<html><body>
<h1>A Light in the Attic</h1>
<p class="price_color">£51.77</p>
<p class="star-rating Three"></p>
<p class="instock availability"><i class="icon-ok"></i> In stock (22 available) </p>
<div id="product_description"><h2>Product Description</h2></div>
<p>It's hard to imagine a world without A Light in the Attic.</p>
<table class="table table-striped">
<tr><th>UPC</th><td>a897fe39b1053632</td></tr>
<tr><th>Number of reviews</th><td>0</td></tr>
</table>
</body></html>`

func TestFetcherParsesDetailPage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	resp := httpmock.NewStringResponse(200, detailHTML)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	transport.RegisterResponder("GET", testBase+"/a-light/index.html", httpmock.ResponderFromResponse(resp))

	fetcher := NewFetcher(time.Second, transport, nil, NewMetrics())
	book, err := fetcher.Fetch(context.Background(), testBase+"/a-light/index.html")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if book.Title != "A Light in the Attic" {
		t.Fatalf("title = %q", book.Title)
	}
	if book.Price != "£51.77" {
		t.Fatalf("price = %q", book.Price)
	}
	if book.Rating != "Three" {
		t.Fatalf("rating = %q", book.Rating)
	}
	if book.Availability != "In stock (22 available)" {
		t.Fatalf("availability = %q", book.Availability)
	}
	if book.Description != "It's hard to imagine a world without A Light in the Attic." {
		t.Fatalf("description = %q", book.Description)
	}
	if book.ProductInfo["UPC"] != "a897fe39b1053632" || book.ProductInfo["Number of reviews"] != "0" {
		t.Fatalf("product info = %v", book.ProductInfo)
	}
}

func TestFetcherDecodesDeclaredCharset(t *testing.T) {
	transport := httpmock.NewMockTransport()
	body := "<html><body><h1>Latin</h1><p class=\"price_color\">\xa310.00</p></body></html>"
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=iso-8859-1")
	transport.RegisterResponder("GET", testBase+"/latin/index.html", httpmock.ResponderFromResponse(resp))

	book, err := NewFetcher(time.Second, transport, nil, nil).Fetch(context.Background(), testBase+"/latin/index.html")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if book.Price != "£10.00" {
		t.Fatalf("price = %q, want £10.00", book.Price)
	}
}

func TestFetcherKeepsLateUTF8WithoutCharset(t *testing.T) {
	transport := httpmock.NewMockTransport()
	padding := "<!-- " + strings.Repeat("catalog ", 150) + "-->"
	body := "<html><head><title>Late</title>" + padding + "</head><body><h1>Late Pound</h1><p class=\"price_color\">£51.77</p></body></html>"
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	transport.RegisterResponder("GET", testBase+"/late/index.html", httpmock.ResponderFromResponse(resp))

	book, err := NewFetcher(time.Second, transport, nil, nil).Fetch(context.Background(), testBase+"/late/index.html")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if strings.Index(body, "£") < 1024 {
		t.Fatalf("the pound sign must sit past the first KB")
	}
	if book.Price != "£51.77" {
		t.Fatalf("price = %q, want £51.77", book.Price)
	}
}

func TestFetcherNonSuccessStatus(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/broken/index.html", httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := NewFetcher(time.Second, transport, nil, nil).Fetch(context.Background(), testBase+"/broken/index.html")

	var fetchErr DetailFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected DetailFetchError, got %T (%v)", err, err)
	}
	if fetchErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", fetchErr.StatusCode)
	}
	if got := errorTypeLabel(err); got != "http_status" {
		t.Fatalf("label = %q, want http_status", got)
	}
}

func TestFetcherNetworkError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/down/index.html", httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

	_, err := NewFetcher(time.Second, transport, nil, nil).Fetch(context.Background(), testBase+"/down/index.html")

	var fetchErr DetailFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected DetailFetchError, got %T (%v)", err, err)
	}
	if fetchErr.StatusCode != 0 {
		t.Fatalf("status = %d, want 0 for a transport failure", fetchErr.StatusCode)
	}
	if got := category(err); got != "network" {
		t.Fatalf("category = %q, want network", got)
	}
}

func TestFetcherCancelledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/slow/index.html", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(time.Second, transport, nil, nil).Fetch(ctx, testBase+"/slow/index.html")
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if got := errorTypeLabel(err); got != "cancelled" {
		t.Fatalf("label = %q, want cancelled", got)
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown"},
		{"cancelled", DetailFetchError{Err: context.Canceled}, "cancelled"},
		{"deadline", DetailFetchError{Err: context.DeadlineExceeded}, "timeout"},
		{"dial", DetailFetchError{Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, "connection"},
		{"not found", DetailFetchError{StatusCode: 404, Err: errStatus(404)}, "not_found"},
		{"forbidden", DetailFetchError{StatusCode: 403, Err: errStatus(403)}, "forbidden"},
		{"rate limited", DetailFetchError{StatusCode: 429, Err: errStatus(429)}, "rate_limited"},
		{"other status", DetailFetchError{StatusCode: 502, Err: errStatus(502)}, "http_status"},
		{"parse", DetailParseError{Err: errors.New("bad html")}, "parse"},
		{"network", DetailFetchError{Err: errors.New("reset")}, "network"},
		{"unexpected", UnexpectedError{Err: errors.New("panic")}, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.want {
				t.Fatalf("errorTypeLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}
