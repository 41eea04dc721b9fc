package graphcrawler

import "errors"

var (
	// ErrFetch wraps transport failures: timeouts, DNS failures, refused
	// connections and unreadable bodies.
	ErrFetch = errors.New("fetch failed")

	// ErrMalformedLink wraps link values that cannot be resolved against the
	// page they were found on.
	ErrMalformedLink = errors.New("malformed link")
)
