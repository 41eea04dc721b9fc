package crawlerdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrNoTasksAvailable  = errors.New("no tasks available right now")
	ErrDoesNotExist      = errors.New("sql: no rows in result set")
	ErrUnsupportedTarget = errors.New("unsupported database target")
)

const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// DB represents a client for the crawl store. It speaks to either PostgreSQL
// or SQLite depending on the connection target it was opened with.
type DB struct {
	db *sqlx.DB
}

// New wraps an existing sqlx connection. The schema is not touched.
func New(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Open connects to the store named by target and creates any missing tables.
// Supported targets are "postgres://...", "postgresql://..." and
// "sqlite://<path>".
func Open(ctx context.Context, target string) (*DB, error) {
	driver, dsn, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("Unable to connect to %s database: %w", driver, err)
	}
	if driver == driverSQLite {
		// SQLite only supports one writer
		db.SetMaxOpenConns(1)
	}
	p := &DB{db: db}
	if err := p.setupSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// OpenWithRetry calls Open until it succeeds or retries run out, sleeping a
// little longer after each failed attempt.
func OpenWithRetry(ctx context.Context, target string, retries int) (*DB, error) {
	count, sleep := 0, 5*time.Second
	db, err := Open(ctx, target)
	for err != nil {
		if errors.Is(err, ErrUnsupportedTarget) || count >= retries {
			return nil, err
		}
		log.Warn().Err(err).Int("attempt", count+1).Dur("retry_in", sleep).Msg("Database connection failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		sleep += 3 * time.Second
		db, err = Open(ctx, target)
		count++
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (p *DB) Close() error {
	return p.db.Close()
}

func parseTarget(target string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return driverPostgres, target, nil
	case strings.HasPrefix(target, "sqlite://"):
		path := strings.TrimPrefix(target, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: missing sqlite path in %q", ErrUnsupportedTarget, target)
		}
		return driverSQLite, path, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
}
