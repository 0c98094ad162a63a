package runes

import (
	"context"
	"time"
)

// Fetcher retrieves the source page. Implementations decide between a plain
// HTTP GET and a rendered browser session; both return serialized HTML.
type Fetcher interface {
	Fetch(ctx context.Context) (Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for change detection and logging.
type Hasher interface {
	Hash(data []byte) (string, error)
}
