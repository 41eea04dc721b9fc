package crawlerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetPage returns the page record stored for url, or ErrDoesNotExist.
func (p *DB) GetPage(ctx context.Context, url string) (*PageRecord, error) {
	var page PageRecord
	err := p.db.GetContext(ctx, &page, p.db.Rebind(
		`SELECT url, accessed, content_type, content_length, status, response,
			response_time, validation_type, valid
		FROM urls
		WHERE url = ?`), url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("Unable to get page %s: %w", url, err)
	}
	return &page, nil
}

// PageStamps returns the url and last access time of every page record.
func (p *DB) PageStamps(ctx context.Context) ([]PageStamp, error) {
	var stamps []PageStamp
	err := p.db.SelectContext(ctx, &stamps,
		`SELECT url, accessed
		FROM urls
		ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("Unable to list page access times: %w", err)
	}
	return stamps, nil
}

// InsertPage stores a new page record. A record that already exists for the
// same url is left as it is.
func (p *DB) InsertPage(ctx context.Context, page PageRecord) error {
	page.Response = cleanText(page.Response)
	_, err := p.db.NamedExecContext(ctx,
		`INSERT INTO urls
		(url, accessed, content_type, content_length, status, response,
			response_time, validation_type, valid)
		VALUES (:url, :accessed, :content_type, :content_length, :status, :response,
			:response_time, :validation_type, :valid)
		ON CONFLICT (url) DO NOTHING`, page)
	if err != nil {
		return fmt.Errorf("Unable to insert page %s: %w", page.URL, err)
	}
	return nil
}

// TouchPage updates the access time and stored body of an existing record.
// Other fields keep the values from the first fetch.
func (p *DB) TouchPage(ctx context.Context, url string, accessed time.Time, body string) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(
		`UPDATE urls
		SET accessed = ?, response = ?
		WHERE url = ?`), accessed, cleanText(body), url)
	if err != nil {
		return fmt.Errorf("Unable to update page %s: %w", url, err)
	}
	return nil
}

// PageCount returns the number of page records.
func (p *DB) PageCount(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM urls`); err != nil {
		return 0, fmt.Errorf("Unable to count pages: %w", err)
	}
	return n, nil
}

// cleanText drops NUL bytes and replaces invalid UTF-8 with U+FFFD. Postgres
// text columns reject both.
func cleanText(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}
