// Package runes defines core types shared across subsystems.
package runes

import "time"

// Record is one rune entry extracted from the source site.
type Record struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Grade    string `json:"grade"`
	Desc     string `json:"desc"`
	Img      string `json:"img"`
}

// RecordSet is the full ordered collection of records currently considered
// authoritative. Order follows the source table, which is what makes the
// "first match" answer of a search deterministic.
type RecordSet []Record

// Clone returns a copy that shares no backing array with the receiver.
func (s RecordSet) Clone() RecordSet {
	if s == nil {
		return nil
	}
	dst := make(RecordSet, len(s))
	copy(dst, s)
	return dst
}

// Equal reports whether both sets hold the same records in the same order.
func (s RecordSet) Equal(other RecordSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Page is the raw content handed from a fetch strategy to the extractor.
type Page struct {
	URL       string
	HTML      string
	FetchedAt time.Time
	Rendered  bool
	Duration  time.Duration
}

// SearchResult is the answer to a name lookup.
type SearchResult struct {
	// Matches holds every matching record in record-set order.
	Matches RecordSet
	// Primary is the first match. Callers needing to disambiguate ties
	// should inspect Matches as a whole.
	Primary Record
}

// Count returns the number of matches.
func (r SearchResult) Count() int {
	return len(r.Matches)
}
