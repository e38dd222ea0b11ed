package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseTaskURL parses an absolute http(s) URL from a crawl task and
// normalizes it, so URLs that differ only in scheme or host case, a default
// port, a fragment or query parameter order name the same page.
func ParseTaskURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse task url: %w", err)
	}
	if !isHTTP(u) || u.Host == "" {
		return nil, fmt.Errorf("task url %q must be absolute http(s)", raw)
	}
	normalize(u)
	return u, nil
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""

	// A query that does not parse cleanly is left as sent.
	if u.RawQuery != "" {
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = q.Encode()
		}
	}
}

// IsPolicyTask reports whether u addresses the robots.txt at the root of its
// authority. A query string disqualifies it.
func IsPolicyTask(u *url.URL) bool {
	if u == nil || u.Host == "" || !isHTTP(u) {
		return false
	}
	if u.RawQuery != "" || u.ForceQuery {
		return false
	}
	return strings.EqualFold(u.Path, "/robots.txt")
}

// Authority returns scheme://host of u.
func Authority(u *url.URL) string {
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

// RobotsURL returns the robots.txt URL for u's authority.
func RobotsURL(u *url.URL) string {
	return Authority(u) + "/robots.txt"
}

// SitemapURL returns the conventional sitemap URL for u's authority.
func SitemapURL(u *url.URL) string {
	return Authority(u) + "/sitemap.xml"
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
