package crawlerdb

import (
	"context"
	"fmt"
)

// EdgesFrom returns every edge whose source is fromURL.
func (p *DB) EdgesFrom(ctx context.Context, fromURL string) ([]LinkEdge, error) {
	var edges []LinkEdge
	err := p.db.SelectContext(ctx, &edges, p.db.Rebind(
		`SELECT from_url, to_url, type
		FROM links
		WHERE from_url = ?`), fromURL)
	if err != nil {
		return nil, fmt.Errorf("Unable to retrieve edges for page %s: %w", fromURL, err)
	}
	return edges, nil
}

// InsertEdge adds an edge unless one with the same source and target already
// exists. It reports whether a row was written.
func (p *DB) InsertEdge(ctx context.Context, edge LinkEdge) (bool, error) {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(
		`INSERT INTO links
		(from_url, to_url, type)
		VALUES (?, ?, ?)
		ON CONFLICT (from_url, to_url) DO NOTHING`), edge.FromURL, edge.ToURL, edge.Type)
	if err != nil {
		return false, fmt.Errorf("Could not insert edge from %s to %s: %w", edge.FromURL, edge.ToURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Could not insert edge from %s to %s: %w", edge.FromURL, edge.ToURL, err)
	}
	return n > 0, nil
}

// DeleteEdgesTo removes every edge pointing at toURL, whatever its source,
// and returns the number removed.
func (p *DB) DeleteEdgesTo(ctx context.Context, toURL string) (int64, error) {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(
		`DELETE FROM links
		WHERE to_url = ?`), toURL)
	if err != nil {
		return 0, fmt.Errorf("Unable to delete edges to %s: %w", toURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Unable to delete edges to %s: %w", toURL, err)
	}
	return n, nil
}
