package runes

import "errors"

// Sentinel errors shared across the refresh and query paths. Callers match
// them with errors.Is; wrapping adds context without losing the class.
var (
	// ErrNetwork covers transport failures, timeouts and non-2xx statuses
	// on the plain HTTP fetch path.
	ErrNetwork = errors.New("network error")

	// ErrBlocked means the source served an anti-bot interstitial instead
	// of real content. Distinct from an empty extraction so a transient
	// challenge never overwrites a good cache.
	ErrBlocked = errors.New("blocked by anti-bot challenge")

	// ErrRenderTimeout means the rendered page never produced the expected
	// content marker within the bounded wait.
	ErrRenderTimeout = errors.New("render timed out waiting for content")

	// ErrEmptyResult means extraction succeeded structurally but yielded
	// zero valid records. Treated as a probable extraction failure, never
	// as a legitimate empty data set.
	ErrEmptyResult = errors.New("extraction yielded no records")

	// ErrNotFound is returned when a query matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery is returned for empty or whitespace-only queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrRefreshBusy is returned when a refresh is requested while another
	// one is already running.
	ErrRefreshBusy = errors.New("refresh already in progress")
)
