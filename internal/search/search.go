// Package search answers name lookups against the cached record set.
package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/onecockle/runedex/internal/runes"
)

// Snapshotter supplies the record set to search over.
type Snapshotter interface {
	Current() runes.RecordSet
}

// Service performs partial, case- and whitespace-insensitive name lookups.
// The permissive matching trades precision for forgiving user input typed
// in chat.
type Service struct {
	source Snapshotter
}

// New builds a Service reading from source.
func New(source Snapshotter) *Service {
	return &Service{source: source}
}

// Search returns every record whose normalized name contains the normalized
// query, in record-set order. The first match is the primary answer; ties
// keep set order and callers wanting disambiguation should read Matches.
//
// An empty (after trimming) query is ErrInvalidQuery, never an empty result.
// Zero matches is ErrNotFound so callers can tell "no match" apart from
// "malformed query" and from "store empty".
func (s *Service) Search(query string) (runes.SearchResult, error) {
	q := Normalize(query)
	if q == "" {
		return runes.SearchResult{}, fmt.Errorf("%w: name parameter required", runes.ErrInvalidQuery)
	}

	set := s.source.Current()
	if len(set) == 0 {
		return runes.SearchResult{}, fmt.Errorf("%w: no data loaded yet", runes.ErrNotFound)
	}

	var matches runes.RecordSet
	for _, rec := range set {
		if strings.Contains(Normalize(rec.Name), q) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return runes.SearchResult{}, fmt.Errorf("%w: no rune matches %q", runes.ErrNotFound, strings.TrimSpace(query))
	}

	return runes.SearchResult{
		Matches: matches,
		Primary: matches[0],
	}, nil
}

// Normalize strips all whitespace and lowercases, so "루나 의" matches
// "루나의 룬" and "Luna" matches "lunastone".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
