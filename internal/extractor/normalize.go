package extractor

import (
	"fmt"
	"strings"

	"github.com/onecockle/runedex/internal/runes"
)

// Normalizer filters and cleans candidates into a record set.
type Normalizer struct {
	origin string
}

// NewNormalizer builds a Normalizer. origin is the source site's scheme and
// host, used to absolutize site-relative image refs.
func NewNormalizer(origin string) *Normalizer {
	return &Normalizer{origin: strings.TrimRight(origin, "/")}
}

// Normalize trims every field, drops candidates without a name, and rewrites
// relative image refs to absolute URLs. Duplicate names are kept; the source
// never dedups and search tolerates them. An empty output is reported as
// ErrEmptyResult since it almost always means the extraction broke, and it
// must not replace an existing non-empty cache.
func (n *Normalizer) Normalize(candidates []Candidate) (runes.RecordSet, error) {
	set := make(runes.RecordSet, 0, len(candidates))
	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		set = append(set, runes.Record{
			Name:     name,
			Category: strings.TrimSpace(c.Category),
			Grade:    strings.TrimSpace(c.Grade),
			Desc:     strings.TrimSpace(c.Desc),
			Img:      n.absolutize(strings.TrimSpace(c.Img)),
		})
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: %d candidates, none valid", runes.ErrEmptyResult, len(candidates))
	}
	return set, nil
}

func (n *Normalizer) absolutize(ref string) string {
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		return n.origin + ref
	}
	return ref
}
