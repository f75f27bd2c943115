package parser

import (
	"strconv"
	"strings"
)

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â£", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// PriceValue parses the numeric part of a raw price. ok is false for
// defaults such as "Price not available".
func PriceValue(price string) (float64, bool) {
	value, err := strconv.ParseFloat(NormalizePrice(price), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// RatingToNumeric converts the textual rating to a numeric scale.
func RatingToNumeric(rating string) int {
	switch strings.TrimSpace(rating) {
	case "Zero":
		return 0
	case "One":
		return 1
	case "Two":
		return 2
	case "Three":
		return 3
	case "Four":
		return 4
	case "Five":
		return 5
	default:
		return 0
	}
}
