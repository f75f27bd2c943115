// Package models defines data structures for the scraper.
package models

import "time"

// Default field values used when a detail page lacks a section.
const (
	DefaultTitle        = "Unknown Title"
	DefaultPrice        = "Price not available"
	DefaultRating       = "Not rated"
	DefaultAvailability = "Availability unknown"
	DefaultDescription  = "No description available"
)

// Book is the record parsed from one detail page. It carries no URL; two
// books with the same content are indistinguishable.
type Book struct {
	Title        string            `csv:"title" json:"title"`
	Price        string            `csv:"price" json:"price"`
	Rating       string            `csv:"rating" json:"rating"`
	Availability string            `csv:"availability" json:"availability"`
	Description  string            `csv:"description" json:"description"`
	ProductInfo  map[string]string `csv:"product_info" json:"product_info"`
}

// StopReason records why catalog pagination ended.
type StopReason string

const (
	StopEmptyPage  StopReason = "empty_page"
	StopFetchError StopReason = "fetch_error"
	StopRepeated   StopReason = "repeated_page"
	StopCancelled  StopReason = "cancelled"
)

// ScrapeResult holds the aggregate of one orchestrator run.
type ScrapeResult struct {
	Books          []Book
	StartTime      time.Time
	EndTime        time.Time
	RequestedCount int
	FailedCount    int
	FailuresByType map[string]int
	PageCount      int
	StopReason     StopReason
}

// SucceededCount is the number of records in the aggregate.
func (r *ScrapeResult) SucceededCount() int {
	if r == nil {
		return 0
	}
	return len(r.Books)
}
