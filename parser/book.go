package parser

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/bookharvest/models"
)

// BookRules locate each field on a books.toscrape.com detail page.
type BookRules struct {
	Title        Rule
	Price        Rule
	Rating       Rule
	Availability Rule
	Description  Rule
	ProductInfo  Rule
}

// DefaultBookRules returns the rules for the demo target.
func DefaultBookRules() BookRules {
	return BookRules{
		Title:        Text("h1", models.DefaultTitle),
		Price:        Text("p.price_color", models.DefaultPrice),
		Rating:       Attr("p.star-rating", "class", models.DefaultRating),
		Availability: Text("p.instock.availability", models.DefaultAvailability),
		Description:  SiblingText("div#product_description", "p", models.DefaultDescription),
		ProductInfo:  Table("table.table.table-striped"),
	}
}

// ParseBook reads an HTML document and extracts a fully populated book.
func ParseBook(r io.Reader, rules BookRules) (models.Book, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return models.Book{}, fmt.Errorf("parse document: %w", err)
	}
	return ExtractBook(doc.Selection, rules), nil
}

// ExtractBook applies rules to an already parsed document.
func ExtractBook(root *goquery.Selection, rules BookRules) models.Book {
	return models.Book{
		Title:        Extract(root, rules.Title),
		Price:        Extract(root, rules.Price),
		Rating:       Extract(root, rules.Rating),
		Availability: Extract(root, rules.Availability),
		Description:  Extract(root, rules.Description),
		ProductInfo:  ExtractTable(root, rules.ProductInfo),
	}
}
