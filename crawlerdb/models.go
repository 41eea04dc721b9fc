package crawlerdb

import (
	"database/sql"
	"time"
)

// QueueTask represents a pending crawl task in the queue table.
type QueueTask struct {
	ID      int64  `db:"id"`
	URL     string `db:"url"`
	Pattern string `db:"pattern"`
	Force   bool   `db:"force"`
}

// PageRecord represents a previously fetched page in the urls table.
type PageRecord struct {
	URL            string        `db:"url"`
	Accessed       time.Time     `db:"accessed"`
	ContentType    string        `db:"content_type"`
	ContentLength  sql.NullInt64 `db:"content_length"`
	Status         int           `db:"status"`
	Response       string        `db:"response"`
	ResponseTime   float64       `db:"response_time"`
	ValidationType string        `db:"validation_type"`
	Valid          bool          `db:"valid"`
}

// PageStamp is the url and last access time of a page record.
type PageStamp struct {
	URL      string    `db:"url"`
	Accessed time.Time `db:"accessed"`
}

// LinkEdge represents a link from one page to another in the links table.
type LinkEdge struct {
	FromURL string `db:"from_url"`
	ToURL   string `db:"to_url"`
	Type    string `db:"type"`
}
