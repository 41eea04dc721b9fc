package graphcrawler

import "time"

// DefaultShelfLife is how long a fetched page stays fresh when no shelf life
// is configured.
const DefaultShelfLife = 24 * time.Hour

// IsStale reports whether a page last accessed at lastAccessed is due for a
// revisit at now. A page exactly shelfLife old is still fresh.
func IsStale(lastAccessed time.Time, shelfLife time.Duration, now time.Time) bool {
	return now.Sub(lastAccessed) > shelfLife
}
