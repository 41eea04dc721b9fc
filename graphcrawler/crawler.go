package graphcrawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/emilyzhang/revisit/crawlerdb"
)

// GraphCrawler drains the crawl queue, fetching pages and keeping the link
// graph in step with what each page currently links to. It processes one task
// at a time.
type GraphCrawler struct {
	db        *crawlerdb.DB
	domain    string
	shelfLife time.Duration

	fetcher   Fetcher
	extractor Extractor
	validator Validator
	metrics   *Metrics
	now       func() time.Time
	started   time.Time
}

// Option configures a GraphCrawler.
type Option func(*GraphCrawler)

// WithFetcher replaces the default http fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *GraphCrawler) { c.fetcher = f }
}

// WithExtractor replaces the default goquery extractor.
func WithExtractor(e Extractor) Option {
	return func(c *GraphCrawler) { c.extractor = e }
}

// WithValidator replaces the default content validator.
func WithValidator(v Validator) Option {
	return func(c *GraphCrawler) { c.validator = v }
}

// WithMetrics records crawl metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *GraphCrawler) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *GraphCrawler) { c.now = now }
}

// New creates a GraphCrawler for domain over db. A zero shelfLife means
// DefaultShelfLife.
func New(db *crawlerdb.DB, domain string, shelfLife time.Duration, opts ...Option) *GraphCrawler {
	if shelfLife == 0 {
		shelfLife = DefaultShelfLife
	}
	c := &GraphCrawler{
		db:        db,
		domain:    domain,
		shelfLife: shelfLife,
		fetcher:   NewHTTPFetcher(DefaultFetchTimeout, DefaultUserAgent),
		extractor: GoqueryExtractor{},
		validator: ContentValidator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	c.started = c.now()
	return c
}

// Stats summarises a Run.
type Stats struct {
	Processed int
	Fetched   int
	Skipped   int
	Failed    int
}

func (s *Stats) add(outcome string) {
	s.Processed++
	switch outcome {
	case outcomeFetched:
		s.Fetched++
	case outcomeSkipped:
		s.Skipped++
	case outcomeFailed:
		s.Failed++
	}
}

// Seed enqueues a revisit task for every stale page record and returns how
// many were added.
func (c *GraphCrawler) Seed(ctx context.Context) (int, error) {
	stamps, err := c.db.PageStamps(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	seeded := 0
	for _, s := range stamps {
		if !IsStale(s.Accessed, c.shelfLife, now) {
			continue
		}
		if err := c.db.EnqueueTask(ctx, s.URL, "", false); err != nil {
			return seeded, err
		}
		seeded++
	}
	log.Info().Int("seeded", seeded).Int("pages", len(stamps)).Msg("Seeded stale pages")
	return seeded, nil
}

// Run pops tasks in insertion order until the queue is empty. Every popped
// task is deleted once handled, whether it was fetched, skipped or failed.
// Run only returns an error when the store itself cannot be read or written
// for queue bookkeeping, or ctx is cancelled.
func (c *GraphCrawler) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		t, err := c.db.NextTask(ctx)
		if errors.Is(err, crawlerdb.ErrNoTasksAvailable) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		outcome := c.runTask(ctx, t)
		c.metrics.Tasks.WithLabelValues(outcome).Inc()
		stats.add(outcome)

		if err := c.db.DeleteTask(ctx, t.ID); err != nil {
			return stats, err
		}
	}
}

// runTask applies the fetch-or-skip decision to t and crawls it if needed.
func (c *GraphCrawler) runTask(ctx context.Context, t *crawlerdb.QueueTask) string {
	fetch, err := c.shouldFetch(ctx, t)
	if err != nil {
		c.handleError(t, err)
		return outcomeFailed
	}
	if !fetch {
		log.Debug().Int64("task_id", t.ID).Str("url", t.URL).Msg("Page is fresh, skipping")
		return outcomeSkipped
	}
	if err := c.crawlPage(ctx, t); err != nil {
		c.handleError(t, err)
		return outcomeFailed
	}
	return outcomeFetched
}

// shouldFetch reports whether t needs a fetch: it is forced, its url has
// never been recorded, or its record is stale.
func (c *GraphCrawler) shouldFetch(ctx context.Context, t *crawlerdb.QueueTask) (bool, error) {
	if t.Force {
		return true, nil
	}
	page, err := c.db.GetPage(ctx, t.URL)
	if errors.Is(err, crawlerdb.ErrDoesNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return IsStale(page.Accessed, c.shelfLife, c.now()), nil
}

// handleError logs and reports a task failure. The task itself is still
// removed from the queue by Run.
func (c *GraphCrawler) handleError(t *crawlerdb.QueueTask, err error) {
	kind := "store"
	if errors.Is(err, ErrFetch) {
		kind = "fetch"
	}
	log.Error().
		Err(err).
		Int64("task_id", t.ID).
		Str("url", t.URL).
		Str("pattern", t.Pattern).
		Bool("force", t.Force).
		Str("kind", kind).
		Msg("Task failed")
	sentry.CaptureException(fmt.Errorf("task %d (%s): %w", t.ID, t.URL, err))
}
