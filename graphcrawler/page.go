package graphcrawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultFetchTimeout bounds a single page fetch.
const DefaultFetchTimeout = 30 * time.Second

// DefaultUserAgent identifies the crawler to the sites it visits.
const DefaultUserAgent = "revisit/0.1"

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// Response is the outcome of fetching a page.
type Response struct {
	// EffectiveURL is the url of the final request after redirects.
	EffectiveURL string
	Status       int
	Body         []byte
	Header       http.Header
	Elapsed      time.Duration
}

// Element is a queried html element: its tag name and attributes.
type Element struct {
	Tag   string
	Attrs map[string]string
}

// Fetcher retrieves a page. Transport failures are reported as ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Extractor finds the elements named by tags in an html document, in
// document order.
type Extractor interface {
	QueryElements(body []byte, tags []string) ([]Element, error)
}

// HTTPFetcher fetches pages over http with a fixed timeout and user agent.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher. Redirects are followed.
// Transparent decompression is off so the server's Content-Length header
// survives; gzip bodies are decoded in Fetch instead.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		userAgent: userAgent,
	}
}

// Fetch returns the response for url. Non-2xx statuses are not errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding body of %s: %w", ErrFetch, url, err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %w", ErrFetch, url, err)
	}
	return &Response{
		EffectiveURL: resp.Request.URL.String(),
		Status:       resp.StatusCode,
		Body:         body,
		Header:       resp.Header,
		Elapsed:      time.Since(start),
	}, nil
}

// GoqueryExtractor queries html documents with goquery selectors.
type GoqueryExtractor struct{}

// QueryElements parses body and returns every element matching one of tags.
func (GoqueryExtractor) QueryElements(body []byte, tags []string) ([]Element, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Unable to parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	var elems []Element
	doc.Find(strings.Join(tags, ", ")).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		attrs := make(map[string]string, len(node.Attr))
		for _, a := range node.Attr {
			// the first occurrence of a repeated attribute wins
			if _, ok := attrs[a.Key]; !ok {
				attrs[a.Key] = a.Val
			}
		}
		elems = append(elems, Element{Tag: goquery.NodeName(s), Attrs: attrs})
	})
	return elems, nil
}
