package graphcrawler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/emilyzhang/revisit/crawlerdb"
)

// crawlPage fetches the page for t, brings its outbound edges up to date,
// enqueues newly discovered links and stores the page record.
func (c *GraphCrawler) crawlPage(ctx context.Context, t *crawlerdb.QueueTask) error {
	target := t.URL
	external := strings.Contains(target, "http") && !strings.Contains(target, c.domain)
	target = strings.TrimSuffix(target, "index.html")

	accessed := c.now()
	resp, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		return err
	}
	c.metrics.FetchDuration.Observe(resp.Elapsed.Seconds())
	pageURL := resp.EffectiveURL

	contentType := MediaType(resp.Header.Get("Content-Type"))
	contentLength := ContentLength(resp.Header.Get("Content-Length"))
	valid, category := c.classify(pageURL, resp.Status, contentType)

	body := string(resp.Body)
	if category == CategoryHTML {
		if strings.Contains(pageURL, c.domain) {
			if err := c.updateLinks(ctx, t, pageURL, resp.Body); err != nil {
				return err
			}
		}
		if external {
			body = ""
		}
	} else {
		body = ""
	}

	responseTime := math.Round(resp.Elapsed.Seconds()*1e6) / 1e6
	log.Info().
		Int64("task_id", t.ID).
		Str("url", pageURL).
		Str("content_type", contentType).
		Int("status", resp.Status).
		Float64("response_time", responseTime).
		Dur("runtime", c.now().Sub(c.started)).
		Msg("Crawled page")

	_, err = c.db.GetPage(ctx, pageURL)
	switch {
	case err == nil:
		return c.db.TouchPage(ctx, pageURL, accessed, body)
	case errors.Is(err, crawlerdb.ErrDoesNotExist):
		return c.db.InsertPage(ctx, crawlerdb.PageRecord{
			URL:            pageURL,
			Accessed:       accessed,
			ContentType:    contentType,
			ContentLength:  contentLength,
			Status:         resp.Status,
			Response:       body,
			ResponseTime:   responseTime,
			ValidationType: category,
			Valid:          valid,
		})
	default:
		return err
	}
}

// classify returns the validity and category of a fetched resource. Missing
// pages are never passed to the validator.
func (c *GraphCrawler) classify(pageURL string, status int, contentType string) (bool, string) {
	if status == 404 {
		return false, CategoryUncategorized
	}
	return c.validator.Classify(pageURL, contentType)
}

// updateLinks diffs the links found in body against the edges recorded for
// pageURL, removes edges to links that disappeared, adds edges for new links
// and enqueues the new links that pass the dedup check.
func (c *GraphCrawler) updateLinks(ctx context.Context, t *crawlerdb.QueueTask, pageURL string, body []byte) error {
	base, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("%w: page url %q: %w", ErrMalformedLink, pageURL, err)
	}
	elems, err := c.extractor.QueryElements(body, linkTags)
	if err != nil {
		return err
	}
	links, tagged := collectLinks(base, elems, func(err error) {
		c.metrics.MalformedLinks.Inc()
		log.Debug().Err(err).Str("url", pageURL).Msg("Skipping malformed link")
	})
	for i := range links {
		links[i] = TrimLeading(links[i])
	}
	for i := range tagged {
		tagged[i].URL = TrimLeading(tagged[i].URL)
	}
	links = uniqueLinks(links)

	existing, err := c.db.EdgesFrom(ctx, pageURL)
	if err != nil {
		return err
	}
	var oldLinks []string
	if len(existing) == 0 {
		for _, link := range links {
			if err := c.insertEdge(ctx, pageURL, link, tagged); err != nil {
				return err
			}
		}
	} else {
		for _, e := range existing {
			oldLinks = append(oldLinks, e.ToURL)
		}
	}

	newLinks := difference(links, oldLinks)
	deletedLinks := difference(oldLinks, links)
	if t.Force {
		newLinks = links
	}

	for _, link := range deletedLinks {
		n, err := c.db.DeleteEdgesTo(ctx, link)
		if err != nil {
			return err
		}
		c.metrics.EdgesDeleted.Add(float64(n))
	}

	enqueued := 0
	for _, link := range newLinks {
		if err := c.insertEdge(ctx, pageURL, link, tagged); err != nil {
			return err
		}
		ok, err := c.enqueueDiscovered(ctx, t, link)
		if err != nil {
			return err
		}
		if ok {
			enqueued++
		}
	}

	log.Debug().
		Str("url", pageURL).
		Int("links", len(links)).
		Int("new", len(newLinks)).
		Int("deleted", len(deletedLinks)).
		Int("enqueued", enqueued).
		Msg("Updated link graph")
	return nil
}

func (c *GraphCrawler) insertEdge(ctx context.Context, pageURL, link string, tagged []taggedLink) error {
	inserted, err := c.db.InsertEdge(ctx, crawlerdb.LinkEdge{
		FromURL: pageURL,
		ToURL:   link,
		Type:    linkType(link, tagged),
	})
	if err != nil {
		return err
	}
	if inserted {
		c.metrics.EdgesInserted.Inc()
	}
	return nil
}

// enqueueDiscovered adds a task for link when the originating task's pattern
// allows it and the dedup check passes. Unscoped tasks spawn unscoped,
// unforced tasks; scoped tasks pass their pattern and force flag on to links
// containing the pattern.
func (c *GraphCrawler) enqueueDiscovered(ctx context.Context, t *crawlerdb.QueueTask, link string) (bool, error) {
	pattern, force := "", false
	if t.Pattern != "" {
		if !strings.Contains(link, t.Pattern) {
			return false, nil
		}
		pattern, force = t.Pattern, t.Force
	}

	decision, err := c.checkEnqueue(ctx, link)
	if err != nil {
		return false, err
	}
	if decision != Eligible {
		log.Debug().Str("link", link).Stringer("decision", decision).Msg("Not enqueuing link")
		return false, nil
	}
	if err := c.db.EnqueueTask(ctx, link, pattern, force); err != nil {
		return false, err
	}
	c.metrics.TasksEnqueued.Inc()
	return true, nil
}

// MediaType returns the part of a Content-Type header before any parameters.
func MediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}

// IsNumeric reports whether s is a non-empty run of ascii digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ContentLength parses a Content-Length header value. Anything that is not
// purely numeric is unknown.
func ContentLength(header string) sql.NullInt64 {
	if !IsNumeric(header) {
		return sql.NullInt64{}
	}
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
