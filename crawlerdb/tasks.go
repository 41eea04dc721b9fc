package crawlerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnqueueTask appends a crawl task to the queue. Duplicate urls are allowed;
// callers that care check IsQueued first.
func (p *DB) EnqueueTask(ctx context.Context, url, pattern string, force bool) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(
		`INSERT INTO queue
		(url, pattern, force)
		VALUES (?, ?, ?)`), url, pattern, force)
	if err != nil {
		return fmt.Errorf("Unable to enqueue task for url %s: %w", url, err)
	}
	return nil
}

// NextTask returns the earliest inserted task without removing it.
func (p *DB) NextTask(ctx context.Context) (*QueueTask, error) {
	var t QueueTask
	err := p.db.GetContext(ctx, &t,
		`SELECT id, url, pattern, force
		FROM queue
		ORDER BY id ASC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTasksAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("Could not retrieve next task: %w", err)
	}
	return &t, nil
}

// DeleteTask removes a task from the queue.
func (p *DB) DeleteTask(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(
		`DELETE FROM queue
		WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("Unable to delete task %d: %w", id, err)
	}
	return nil
}

// IsQueued reports whether any task for url is waiting in the queue.
func (p *DB) IsQueued(ctx context.Context, url string) (bool, error) {
	var n int
	err := p.db.GetContext(ctx, &n, p.db.Rebind(
		`SELECT COUNT(*)
		FROM queue
		WHERE url = ?`), url)
	if err != nil {
		return false, fmt.Errorf("Unable to look up url %s in queue: %w", url, err)
	}
	return n > 0, nil
}

// QueueLength returns the number of pending tasks.
func (p *DB) QueueLength(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queue`); err != nil {
		return 0, fmt.Errorf("Unable to count queued tasks: %w", err)
	}
	return n, nil
}

// ListTasks returns every queued task in insertion order.
func (p *DB) ListTasks(ctx context.Context) ([]QueueTask, error) {
	var tasks []QueueTask
	err := p.db.SelectContext(ctx, &tasks,
		`SELECT id, url, pattern, force
		FROM queue
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("Unable to list queued tasks: %w", err)
	}
	return tasks, nil
}
