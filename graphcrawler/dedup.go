package graphcrawler

import (
	"context"
	"errors"
	"strings"

	"github.com/emilyzhang/revisit/crawlerdb"
)

// EnqueueDecision is the outcome of checking whether a discovered link should
// become a new crawl task.
type EnqueueDecision int

const (
	// Eligible links have no page record, or a stale one.
	Eligible EnqueueDecision = iota
	// NotEligibleFresh links have a page record that is still fresh.
	NotEligibleFresh
	// NotEligibleExcluded links are already queued or are the domain root.
	NotEligibleExcluded
)

func (d EnqueueDecision) String() string {
	switch d {
	case Eligible:
		return "eligible"
	case NotEligibleFresh:
		return "fresh"
	case NotEligibleExcluded:
		return "excluded"
	}
	return "unknown"
}

// domainRoot returns the root url of the configured domain, with a single
// trailing slash.
func (c *GraphCrawler) domainRoot() string {
	return strings.TrimSuffix(c.domain, "/") + "/"
}

// checkEnqueue decides whether link may be added to the queue.
func (c *GraphCrawler) checkEnqueue(ctx context.Context, link string) (EnqueueDecision, error) {
	if link == c.domainRoot() {
		return NotEligibleExcluded, nil
	}
	queued, err := c.db.IsQueued(ctx, link)
	if err != nil {
		return NotEligibleExcluded, err
	}
	if queued {
		return NotEligibleExcluded, nil
	}

	page, err := c.db.GetPage(ctx, link)
	if errors.Is(err, crawlerdb.ErrDoesNotExist) {
		return Eligible, nil
	}
	if err != nil {
		return NotEligibleExcluded, err
	}
	if IsStale(page.Accessed, c.shelfLife, c.now()) {
		return Eligible, nil
	}
	return NotEligibleFresh, nil
}
