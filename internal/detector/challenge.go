// Package detector recognizes anti-bot interstitials in fetched content.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Challenge inspects page content for signs that the source served an
// anti-automation challenge instead of real data. The distinction matters
// because a challenge page extracts to zero records, and zero records must
// never silently replace a good cache.
type Challenge struct {
	keywords    [][]byte
	rowSelector string
}

// NewChallenge constructs a detector from marker keywords and the selector
// that real content is expected to contain.
func NewChallenge(keywords []string, rowSelector string) *Challenge {
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &Challenge{
		keywords:    lowered,
		rowSelector: rowSelector,
	}
}

// Blocked reports whether the HTML looks like a challenge interstitial.
func (d *Challenge) Blocked(html string) bool {
	if d == nil || html == "" {
		return false
	}
	if !d.containsKeywords([]byte(html)) {
		return false
	}
	// A page can legitimately mention challenge vocabulary; only treat it
	// as blocked when the expected content rows are absent too.
	return !d.hasContentRows(html)
}

func (d *Challenge) containsKeywords(body []byte) bool {
	if len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Challenge) hasContentRows(html string) bool {
	if d.rowSelector == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(d.rowSelector).Length() > 0
}
