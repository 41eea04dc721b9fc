package graphcrawler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilyzhang/revisit/crawlerdb"
)

const (
	testDomain = "http://example.com"
	rootURL    = "http://example.com/"
)

type fakeFetcher struct {
	pages map[string]*Response
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Response, error) {
	f.calls = append(f.calls, url)
	resp, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s: connection refused", ErrFetch, url)
	}
	return resp, nil
}

func (f *fakeFetcher) serve(url, contentType, body string) {
	f.serveStatus(url, http.StatusOK, contentType, body)
}

func (f *fakeFetcher) serveStatus(url string, status int, contentType, body string) {
	f.pages[url] = &Response{
		EffectiveURL: url,
		Status:       status,
		Body:         []byte(body),
		Header:       http.Header{"Content-Type": {contentType}, "Content-Length": {fmt.Sprint(len(body))}},
		Elapsed:      120 * time.Millisecond,
	}
}

func anchors(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, h, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type harness struct {
	crawler *GraphCrawler
	db      *crawlerdb.DB
	fetcher *fakeFetcher
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := crawlerdb.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:      db,
		fetcher: &fakeFetcher{pages: map[string]*Response{}},
		clock:   &testClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	h.crawler = New(db, testDomain, 24*time.Hour,
		WithFetcher(h.fetcher),
		WithClock(h.clock.Now),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)
	return h
}

func (h *harness) tasks(t *testing.T) []crawlerdb.QueueTask {
	t.Helper()
	tasks, err := h.db.ListTasks(context.Background())
	require.NoError(t, err)
	return tasks
}

func (h *harness) clearQueue(t *testing.T) {
	t.Helper()
	for _, task := range h.tasks(t) {
		require.NoError(t, h.db.DeleteTask(context.Background(), task.ID))
	}
}

func (h *harness) edgeTargets(t *testing.T, from string) map[string]string {
	t.Helper()
	edges, err := h.db.EdgesFrom(context.Background(), from)
	require.NoError(t, err)
	out := make(map[string]string, len(edges))
	for _, e := range edges {
		out[e.ToURL] = e.Type
	}
	return out
}

func taskURLs(tasks []crawlerdb.QueueTask) []string {
	var urls []string
	for _, task := range tasks {
		urls = append(urls, task.URL)
	}
	return urls
}

func TestCrawlPageLinkGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("first crawl inserts an edge and a task per new link", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html; charset=utf-8", anchors("/a", "/b"))

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL, Force: true}))

		assert.Equal(tt, map[string]string{
			"http://example.com/a": "a",
			"http://example.com/b": "a",
		}, h.edgeTargets(tt, rootURL))

		tasks := h.tasks(tt)
		assert.Equal(tt, []string{"http://example.com/a", "http://example.com/b"}, taskURLs(tasks))
		for _, task := range tasks {
			assert.Empty(tt, task.Pattern)
			assert.False(tt, task.Force)
		}

		page, err := h.db.GetPage(ctx, rootURL)
		require.NoError(tt, err)
		assert.Equal(tt, "text/html", page.ContentType)
		assert.Equal(tt, CategoryHTML, page.ValidationType)
		assert.True(tt, page.Valid)
		assert.Equal(tt, 200, page.Status)
		assert.Equal(tt, anchors("/a", "/b"), page.Response)
		assert.InDelta(tt, 0.12, page.ResponseTime, 1e-9)
		assert.True(tt, page.ContentLength.Valid)
	})

	t.Run("off domain links under an empty pattern are still queued", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("https://other.test/x", "/in"))

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		tasks := h.tasks(tt)
		assert.Equal(tt, []string{"https://other.test/x", "http://example.com/in"}, taskURLs(tasks))
		for _, task := range tasks {
			assert.Empty(tt, task.Pattern)
			assert.False(tt, task.Force)
		}
		assert.Contains(tt, h.edgeTargets(tt, rootURL), "https://other.test/x")
	})

	t.Run("recrawl diffs links against recorded edges", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("/a", "/b"))
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL, Force: true}))
		h.clearQueue(tt)

		h.clock.t = h.clock.t.Add(48 * time.Hour)
		h.fetcher.serve(rootURL, "text/html", anchors("/a", "/c"))
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		assert.Equal(tt, map[string]string{
			"http://example.com/a": "a",
			"http://example.com/c": "a",
		}, h.edgeTargets(tt, rootURL))
		assert.Equal(tt, []string{"http://example.com/c"}, taskURLs(h.tasks(tt)))
		assert.Equal(tt, 1.0, testutil.ToFloat64(h.crawler.metrics.EdgesDeleted))

		page, err := h.db.GetPage(ctx, rootURL)
		require.NoError(tt, err)
		assert.True(tt, h.clock.t.Equal(page.Accessed))
		assert.Equal(tt, anchors("/a", "/c"), page.Response)
	})

	t.Run("unchanged page without force is idempotent", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("/a", "/b"))
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))
		h.clearQueue(tt)
		inserted := testutil.ToFloat64(h.crawler.metrics.EdgesInserted)

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		assert.Equal(tt, inserted, testutil.ToFloat64(h.crawler.metrics.EdgesInserted))
		assert.Equal(tt, 0.0, testutil.ToFloat64(h.crawler.metrics.EdgesDeleted))
		assert.Empty(tt, h.tasks(tt))
		assert.Len(tt, h.edgeTargets(tt, rootURL), 2)
	})

	t.Run("force re-links an unchanged page", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("/a", "/b"))
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))
		h.clearQueue(tt)

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL, Force: true}))

		assert.Equal(tt, []string{"http://example.com/a", "http://example.com/b"}, taskURLs(h.tasks(tt)))
		assert.Len(tt, h.edgeTargets(tt, rootURL), 2)
	})

	t.Run("pattern scopes discovered links and propagates force", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("/docs/intro", "/blog/post", "/docs/api"))
		pattern := "http://example.com/docs"

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL, Pattern: pattern, Force: true}))

		tasks := h.tasks(tt)
		assert.Equal(tt, []string{"http://example.com/docs/intro", "http://example.com/docs/api"}, taskURLs(tasks))
		for _, task := range tasks {
			assert.Equal(tt, pattern, task.Pattern)
			assert.True(tt, task.Force)
		}
		// edges are recorded for every link regardless of pattern
		assert.Len(tt, h.edgeTargets(tt, rootURL), 3)
	})

	t.Run("edge types follow the originating tag", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", `<html><head>
			<link rel="stylesheet" href="/site.css">
			<script src="/site.js"></script>
		</head><body><img src="/logo.png"><a href="/site.css">raw css</a></body></html>`)

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		assert.Equal(tt, map[string]string{
			"http://example.com/site.css": "css",
			"http://example.com/site.js":  "script",
			"http://example.com/logo.png": "img",
		}, h.edgeTargets(tt, rootURL))
	})

	t.Run("edges hang off the effective url", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve("http://example.com/home", "text/html", anchors("/a"))
		h.fetcher.pages["http://example.com/old"] = h.fetcher.pages["http://example.com/home"]

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: "http://example.com/old"}))

		assert.Len(tt, h.edgeTargets(tt, "http://example.com/home"), 1)
		assert.Empty(tt, h.edgeTargets(tt, "http://example.com/old"))
		_, err := h.db.GetPage(ctx, "http://example.com/home")
		assert.NoError(tt, err)
	})

	t.Run("malformed links are skipped individually", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("http://example.com:port/", "/ok"))

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		assert.Equal(tt, map[string]string{"http://example.com/ok": "a"}, h.edgeTargets(tt, rootURL))
		assert.Equal(tt, 1.0, testutil.ToFloat64(h.crawler.metrics.MalformedLinks))
	})
}

func TestCrawlPageContentHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("index.html is trimmed before fetching", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve("http://example.com/docs/", "text/html", anchors())

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: "http://example.com/docs/index.html"}))
		assert.Equal(tt, []string{"http://example.com/docs/"}, h.fetcher.calls)
	})

	t.Run("missing page is recorded invalid and not parsed", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serveStatus(rootURL, http.StatusNotFound, "text/html", anchors("/a"))

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		page, err := h.db.GetPage(ctx, rootURL)
		require.NoError(tt, err)
		assert.False(tt, page.Valid)
		assert.Equal(tt, CategoryUncategorized, page.ValidationType)
		assert.Equal(tt, 404, page.Status)
		assert.Empty(tt, page.Response)
		assert.Empty(tt, h.edgeTargets(tt, rootURL))
		assert.Empty(tt, h.tasks(tt))
	})

	t.Run("latin-1 body is recorded as valid text", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html; charset=iso-8859-1", "<html><body>caf\xe9\x00</body></html>")

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		page, err := h.db.GetPage(ctx, rootURL)
		require.NoError(tt, err)
		assert.Equal(tt, "<html><body>caf\uFFFD</body></html>", page.Response)
	})

	t.Run("non html body is discarded", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve("http://example.com/site.css", "text/css", "body { color: red }")

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: "http://example.com/site.css"}))

		page, err := h.db.GetPage(ctx, "http://example.com/site.css")
		require.NoError(tt, err)
		assert.Equal(tt, CategoryCSS, page.ValidationType)
		assert.Empty(tt, page.Response)
	})

	t.Run("external page keeps metadata only", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve("http://other.test/page", "text/html", anchors("/elsewhere"))

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: "http://other.test/page"}))

		page, err := h.db.GetPage(ctx, "http://other.test/page")
		require.NoError(tt, err)
		assert.Equal(tt, "text/html", page.ContentType)
		assert.Empty(tt, page.Response)
		assert.Empty(tt, h.edgeTargets(tt, "http://other.test/page"))
		assert.Empty(tt, h.tasks(tt))
	})

	t.Run("revisit only rewrites access time and body", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors())
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		h.clock.t = h.clock.t.Add(time.Hour)
		h.fetcher.serveStatus(rootURL, http.StatusInternalServerError, "text/html", "<html>oops</html>")
		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: rootURL}))

		page, err := h.db.GetPage(ctx, rootURL)
		require.NoError(tt, err)
		assert.Equal(tt, 200, page.Status)
		assert.Equal(tt, "<html>oops</html>", page.Response)
		assert.True(tt, h.clock.t.Equal(page.Accessed))
	})
}

func TestCheckEnqueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.db.EnqueueTask(ctx, "http://example.com/queued", "", false))
	require.NoError(t, h.db.InsertPage(ctx, crawlerdb.PageRecord{URL: "http://example.com/fresh", Accessed: h.clock.t.Add(-time.Hour)}))
	require.NoError(t, h.db.InsertPage(ctx, crawlerdb.PageRecord{URL: "http://example.com/stale", Accessed: h.clock.t.Add(-48 * time.Hour)}))

	tests := []struct {
		link string
		want EnqueueDecision
	}{
		{rootURL, NotEligibleExcluded},
		{"http://example.com/queued", NotEligibleExcluded},
		{"http://example.com/fresh", NotEligibleFresh},
		{"http://example.com/stale", Eligible},
		{"http://example.com/new", Eligible},
	}
	for _, tc := range tests {
		t.Run(tc.link, func(tt *testing.T) {
			got, err := h.crawler.checkEnqueue(ctx, tc.link)
			require.NoError(tt, err)
			assert.Equal(tt, tc.want, got, "got %s", got)
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.db.InsertPage(ctx, crawlerdb.PageRecord{URL: "http://example.com/old", Accessed: h.clock.t.Add(-48 * time.Hour)}))
	require.NoError(t, h.db.InsertPage(ctx, crawlerdb.PageRecord{URL: "http://example.com/edge", Accessed: h.clock.t.Add(-24 * time.Hour)}))
	require.NoError(t, h.db.InsertPage(ctx, crawlerdb.PageRecord{URL: "http://example.com/new", Accessed: h.clock.t}))

	n, err := h.crawler.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks := h.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "http://example.com/old", tasks[0].URL)
	assert.Empty(t, tasks[0].Pattern)
	assert.False(t, tasks[0].Force)
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("drains the queue following discovered links", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors("/a", "/b"))
		h.fetcher.serve("http://example.com/a", "text/html", anchors("/", "/b"))
		h.fetcher.serve("http://example.com/b", "text/html", anchors("/a"))
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", true))

		stats, err := h.crawler.Run(ctx)
		require.NoError(tt, err)
		assert.Equal(tt, Stats{Processed: 3, Fetched: 3}, stats)
		assert.Empty(tt, h.tasks(tt))
		assert.Equal(tt, []string{rootURL, "http://example.com/a", "http://example.com/b"}, h.fetcher.calls)
		assert.Equal(tt, 3.0, testutil.ToFloat64(h.crawler.metrics.Tasks.WithLabelValues(outcomeFetched)))
	})

	t.Run("fresh pages are skipped but still consumed", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors())
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", false))
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", false))

		stats, err := h.crawler.Run(ctx)
		require.NoError(tt, err)
		assert.Equal(tt, Stats{Processed: 2, Fetched: 1, Skipped: 1}, stats)
		assert.Len(tt, h.fetcher.calls, 1)
		assert.Empty(tt, h.tasks(tt))
	})

	t.Run("stale pages and forced tasks are fetched again", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve(rootURL, "text/html", anchors())
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", false))
		_, err := h.crawler.Run(ctx)
		require.NoError(tt, err)

		h.clock.t = h.clock.t.Add(25 * time.Hour)
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", false))
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", true))

		stats, err := h.crawler.Run(ctx)
		require.NoError(tt, err)
		assert.Equal(tt, 2, stats.Fetched)
	})

	t.Run("fetch failure is consumed without a record", func(tt *testing.T) {
		h := newHarness(tt)
		h.fetcher.serve("http://example.com/up", "text/html", anchors())
		require.NoError(tt, h.db.EnqueueTask(ctx, "http://example.com/down", "", true))
		require.NoError(tt, h.db.EnqueueTask(ctx, "http://example.com/up", "", true))

		stats, err := h.crawler.Run(ctx)
		require.NoError(tt, err)
		assert.Equal(tt, Stats{Processed: 2, Fetched: 1, Failed: 1}, stats)
		assert.Empty(tt, h.tasks(tt))

		_, err = h.db.GetPage(ctx, "http://example.com/down")
		assert.ErrorIs(tt, err, crawlerdb.ErrDoesNotExist)
		_, err = h.db.GetPage(ctx, "http://example.com/up")
		assert.NoError(tt, err)
	})

	t.Run("stops when the context is cancelled", func(tt *testing.T) {
		h := newHarness(tt)
		require.NoError(tt, h.db.EnqueueTask(ctx, rootURL, "", true))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := h.crawler.Run(cctx)
		assert.ErrorIs(tt, err, context.Canceled)
		assert.Len(tt, h.tasks(tt), 1)
	})
}

type stubExtractor struct {
	elems []Element
	calls int
}

func (e *stubExtractor) QueryElements(_ []byte, _ []string) ([]Element, error) {
	e.calls++
	return e.elems, nil
}

type stubValidator struct {
	valid    bool
	category string
	seen     []string
}

func (v *stubValidator) Classify(url, contentType string) (bool, string) {
	v.seen = append(v.seen, url+" "+contentType)
	return v.valid, v.category
}

func TestCrawlerOptions(t *testing.T) {
	ctx := context.Background()
	pageURL := "http://example.com/blob"

	newCrawler := func(tt *testing.T, ex Extractor, v Validator) *harness {
		h := newHarness(tt)
		h.crawler = New(h.db, testDomain, 24*time.Hour,
			WithFetcher(h.fetcher),
			WithClock(h.clock.Now),
			WithExtractor(ex),
			WithValidator(v),
		)
		h.fetcher.serve(pageURL, "application/octet-stream", "opaque")
		return h
	}

	t.Run("custom validator and extractor drive link discovery", func(tt *testing.T) {
		ex := &stubExtractor{elems: []Element{{Tag: "a", Attrs: map[string]string{"href": "/found"}}}}
		v := &stubValidator{valid: true, category: CategoryHTML}
		h := newCrawler(tt, ex, v)

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: pageURL}))

		assert.Equal(tt, []string{pageURL + " application/octet-stream"}, v.seen)
		assert.Equal(tt, 1, ex.calls)
		assert.Equal(tt, map[string]string{"http://example.com/found": "a"}, h.edgeTargets(tt, pageURL))

		page, err := h.db.GetPage(ctx, pageURL)
		require.NoError(tt, err)
		assert.Equal(tt, CategoryHTML, page.ValidationType)
		assert.True(tt, page.Valid)
		assert.Equal(tt, "opaque", page.Response)
	})

	t.Run("non html verdict skips extraction", func(tt *testing.T) {
		ex := &stubExtractor{elems: []Element{{Tag: "a", Attrs: map[string]string{"href": "/found"}}}}
		v := &stubValidator{valid: false, category: CategoryDocument}
		h := newCrawler(tt, ex, v)

		require.NoError(tt, h.crawler.crawlPage(ctx, &crawlerdb.QueueTask{URL: pageURL}))

		assert.Zero(tt, ex.calls)
		assert.Empty(tt, h.tasks(tt))
		page, err := h.db.GetPage(ctx, pageURL)
		require.NoError(tt, err)
		assert.Equal(tt, CategoryDocument, page.ValidationType)
		assert.False(tt, page.Valid)
		assert.Empty(tt, page.Response)
	})
}
