package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// CatalogFetchError means a catalog page could not be fetched or returned a
// non-success status. The collector treats it as the end of pagination.
type CatalogFetchError struct {
	Page int
	URL  string
	Err  error
}

func (e CatalogFetchError) Error() string {
	return fmt.Errorf("catalog page %d (%s): %w", e.Page, e.URL, e.Err).Error()
}

func (e CatalogFetchError) Unwrap() error {
	return e.Err
}

// DetailFetchError is a network-level failure fetching a detail page.
// StatusCode is set when the server answered with a non-2xx status.
type DetailFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e DetailFetchError) Error() string {
	return fmt.Errorf("fetch %s: %w", e.URL, e.Err).Error()
}

func (e DetailFetchError) Unwrap() error {
	return e.Err
}

// DetailParseError means the detail body could not be turned into a document.
type DetailParseError struct {
	URL string
	Err error
}

func (e DetailParseError) Error() string {
	return fmt.Errorf("parse %s: %w", e.URL, e.Err).Error()
}

func (e DetailParseError) Unwrap() error {
	return e.Err
}

// UnexpectedError wraps anything else that went wrong while processing a
// detail page, including a recovered panic.
type UnexpectedError struct {
	URL string
	Err error
}

func (e UnexpectedError) Error() string {
	return fmt.Errorf("unexpected failure for %s: %w", e.URL, e.Err).Error()
}

func (e UnexpectedError) Unwrap() error {
	return e.Err
}

// errStatus is the cause recorded for non-2xx responses.
type errStatus int

func (e errStatus) Error() string {
	return fmt.Sprintf("http status %d %s", int(e), http.StatusText(int(e)))
}

// category is the coarse cause bucket used in log lines.
func category(err error) string {
	var fetchErr DetailFetchError
	if errors.As(err, &fetchErr) {
		return "network"
	}
	var parseErr DetailParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	var catalogErr CatalogFetchError
	if errors.As(err, &catalogErr) {
		return "catalog"
	}
	return "unexpected"
}

// errorTypeLabel is the finer label used for metrics.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	var status errStatus
	if errors.As(err, &status) {
		switch int(status) {
		case http.StatusNotFound:
			return "not_found"
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "http_status"
	}
	switch category(err) {
	case "parse":
		return "parse"
	case "network":
		return "network"
	}
	return "unexpected"
}
