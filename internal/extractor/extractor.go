// Package extractor turns fetched HTML into candidate rune records.
//
// Extraction rules are data, not code: a Mapping names one CSS selector per
// field, evaluated inside each row. Site revisions are handled by swapping
// the mapping, never by forking the extraction logic. The extractor itself
// never drops a row; rows with missing fields carry empty strings and the
// normalizer decides what survives.
package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Mapping binds record fields to selectors. Row selects the repeating
// structural unit; the rest are evaluated relative to a row. An empty
// field selector yields an empty string for that field.
type Mapping struct {
	Row      string
	Name     string
	Category string
	Grade    string
	Desc     string
	Img      string
}

// Candidate is a raw extracted row before validation.
type Candidate struct {
	Name     string
	Category string
	Grade    string
	Desc     string
	Img      string
}

// Extractor applies a Mapping to page HTML.
type Extractor struct {
	mapping Mapping
}

// New builds an Extractor. The row and name selectors are mandatory; every
// other field degrades to "" when unmapped or absent.
func New(mapping Mapping) (*Extractor, error) {
	if mapping.Row == "" {
		return nil, fmt.Errorf("mapping requires a row selector")
	}
	if mapping.Name == "" {
		return nil, fmt.Errorf("mapping requires a name selector")
	}
	return &Extractor{mapping: mapping}, nil
}

// Extract returns one candidate per row in document order. A field lookup
// failure never aborts the extraction.
func (e *Extractor) Extract(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var candidates []Candidate
	doc.Find(e.mapping.Row).Each(func(_ int, row *goquery.Selection) {
		candidates = append(candidates, Candidate{
			Name:     fieldText(row, e.mapping.Name),
			Category: fieldText(row, e.mapping.Category),
			Grade:    fieldText(row, e.mapping.Grade),
			Desc:     fieldText(row, e.mapping.Desc),
			Img:      fieldAttr(row, e.mapping.Img, "src"),
		})
	})
	return candidates, nil
}

func fieldText(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return row.Find(selector).First().Text()
}

func fieldAttr(row *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	val, ok := row.Find(selector).First().Attr(attr)
	if !ok {
		return ""
	}
	return val
}
