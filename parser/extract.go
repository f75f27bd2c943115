// Package parser turns detail-page HTML into book records.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind selects how a Rule reads its value.
type Kind int

const (
	// KindText returns the trimmed text of the first match.
	KindText Kind = iota
	// KindAttr returns an attribute of the first match.
	KindAttr
	// KindSiblingText returns the trimmed text of the first following
	// sibling of the match that satisfies Rule.Sibling.
	KindSiblingText
	// KindTable maps th -> td for every complete row of the first match.
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAttr:
		return "attr"
	case KindSiblingText:
		return "sibling_text"
	case KindTable:
		return "table"
	default:
		return "unknown"
	}
}

// Rule describes where a field lives and what to return when it is absent.
type Rule struct {
	Kind     Kind
	Selector string
	Attr     string
	Sibling  string
	Default  string
}

// Text is a KindText rule.
func Text(selector, def string) Rule {
	return Rule{Kind: KindText, Selector: selector, Default: def}
}

// Attr is a KindAttr rule.
func Attr(selector, attr, def string) Rule {
	return Rule{Kind: KindAttr, Selector: selector, Attr: attr, Default: def}
}

// SiblingText is a KindSiblingText rule.
func SiblingText(selector, sibling, def string) Rule {
	return Rule{Kind: KindSiblingText, Selector: selector, Sibling: sibling, Default: def}
}

// Table is a KindTable rule.
func Table(selector string) Rule {
	return Rule{Kind: KindTable, Selector: selector}
}

// Attributes whose values are whitespace-separated token lists.
var tokenListAttrs = map[string]bool{
	"class":          true,
	"rel":            true,
	"rev":            true,
	"headers":        true,
	"accesskey":      true,
	"accept-charset": true,
	"dropzone":       true,
}

// Extract evaluates a scalar rule against root. Absence never fails: a
// missing element, attribute or sibling yields rule.Default. KindTable rules
// return rule.Default; use ExtractTable for those.
func Extract(root *goquery.Selection, rule Rule) string {
	match, ok := lookup(root, rule.Selector)
	if !ok {
		return rule.Default
	}

	switch rule.Kind {
	case KindText:
		return strings.TrimSpace(match.Text())
	case KindAttr:
		value, exists := match.Attr(rule.Attr)
		if !exists {
			return rule.Default
		}
		if tokenListAttrs[strings.ToLower(rule.Attr)] {
			// "star-rating Three" -> "Three"
			if tokens := strings.Fields(value); len(tokens) > 1 {
				return tokens[1]
			}
		}
		return value
	case KindSiblingText:
		sibling := match.NextAllFiltered(rule.Sibling).First()
		if sibling.Length() == 0 {
			return rule.Default
		}
		return strings.TrimSpace(sibling.Text())
	default:
		return rule.Default
	}
}

// ExtractTable evaluates a KindTable rule. The result is never nil; rows
// missing either a th or a td are skipped and duplicate keys keep the last
// value seen.
func ExtractTable(root *goquery.Selection, rule Rule) map[string]string {
	data := make(map[string]string)
	table, ok := lookup(root, rule.Selector)
	if !ok {
		return data
	}

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		data[strings.TrimSpace(th.Text())] = strings.TrimSpace(td.Text())
	})
	return data
}

// lookup is the single absence-tolerant finder every rule goes through.
func lookup(root *goquery.Selection, selector string) (*goquery.Selection, bool) {
	if root == nil || selector == "" {
		return nil, false
	}
	match := root.Find(selector).First()
	if match.Length() == 0 {
		return nil, false
	}
	return match, true
}
