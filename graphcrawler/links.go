package graphcrawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// linkTags are the elements whose href or src attributes become graph edges.
var linkTags = []string{"a", "link", "img", "video", "audio", "script", "object"}

// quoteNoise matches quote characters and any whitespace run leading up to one.
var quoteNoise = regexp.MustCompile(`\s+"|"`)

var unsafeEscaper = strings.NewReplacer(
	"[", "%5B",
	"]", "%5D",
	"(", "%28",
	")", "%29",
	"|", "%7C",
	" ", "%20",
)

// taggedLink pairs a resolved link with the name of the element it came from.
type taggedLink struct {
	URL string
	Tag string
}

// skipHref reports whether an href value is a fragment, mail link, empty
// placeholder or obfuscated address.
func skipHref(href string) bool {
	return strings.Contains(href, "#") ||
		strings.Contains(href, "mailto:") ||
		href == "http://" ||
		strings.Contains(href, "@")
}

// skipSrc reports whether a src value is an inline data uri.
func skipSrc(src string) bool {
	return strings.HasPrefix(src, "data:")
}

// NormalizeLink resolves a raw attribute value against base. Quotes and
// surrounding whitespace are stripped and the characters []()| and space are
// percent-escaped before resolution.
func NormalizeLink(base *url.URL, raw string) (string, error) {
	cleaned := strings.TrimSpace(quoteNoise.ReplaceAllString(raw, ""))
	ref, err := url.Parse(unsafeEscaper.Replace(cleaned))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrMalformedLink, raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// TrimLeading strips a single leading "/" or, failing that, a single leading
// "../" from link. It does not walk further "../" segments.
func TrimLeading(link string) string {
	switch {
	case strings.HasPrefix(link, "/"):
		return link[1:]
	case strings.HasPrefix(link, "../"):
		return link[3:]
	}
	return link
}

// ResolvePattern joins a pattern onto the url it scopes, the way the command
// line and API accept "<url> <pattern>".
func ResolvePattern(rawURL, pattern string) (string, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("Unable to parse url %s: %w", rawURL, err)
	}
	ref, err := url.Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("Unable to parse pattern %s: %w", pattern, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// collectLinks turns extracted elements into resolved links and their tag
// pairs, in document order. Filtered values are dropped; values that fail to
// resolve are passed to onMalformed and dropped.
func collectLinks(base *url.URL, elems []Element, onMalformed func(error)) ([]string, []taggedLink) {
	var links []string
	var tagged []taggedLink
	for _, e := range elems {
		var raw string
		if href, ok := e.Attrs["href"]; ok {
			if skipHref(href) {
				continue
			}
			raw = href
		} else if src, ok := e.Attrs["src"]; ok {
			if skipSrc(src) {
				continue
			}
			raw = src
		} else {
			continue
		}

		link, err := NormalizeLink(base, raw)
		if err != nil {
			if onMalformed != nil {
				onMalformed(err)
			}
			continue
		}
		links = append(links, link)
		tagged = append(tagged, taggedLink{URL: link, Tag: e.Tag})
	}
	return links, tagged
}

// linkType returns the edge type for link: the tag of the first element it
// was found on, with "link" reported as "css". Unknown links have no type.
func linkType(link string, tagged []taggedLink) string {
	for _, tl := range tagged {
		if tl.URL != link {
			continue
		}
		if tl.Tag == "link" {
			return "css"
		}
		return tl.Tag
	}
	return ""
}

// uniqueLinks removes repeated links, keeping the first occurrence.
func uniqueLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// difference returns the elements of a that are not in b, in the order of a.
func difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, s := range b {
		exclude[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := exclude[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
