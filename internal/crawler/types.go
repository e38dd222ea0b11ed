package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Base queue names. Tier-qualified physical names derive from these.
const (
	CrawlingQueue = "CrawlingQueue"
	IndexingQueue = "IndexingQueue"
)

// CrawlTask asks the crawler to fetch one URL.
type CrawlTask struct {
	URL string `json:"url"`
}

// CrawlingFeedback is the policy parsed from one site's robots.txt.
type CrawlingFeedback struct {
	BaseURL string `json:"baseUrl"`
	// CrawlDelay is in seconds; zero means unset.
	CrawlDelay      int      `json:"crawlDelay"`
	AllowedPaths    []string `json:"allowedPaths"`
	DisallowedPaths []string `json:"disallowedPaths"`
	SitemapURLs     []string `json:"sitemapUrls"`
}

// Delay returns the crawl delay as a duration.
func (f CrawlingFeedback) Delay() time.Duration {
	return time.Duration(f.CrawlDelay) * time.Second
}

// HasSitemap reports whether u is already listed.
func (f CrawlingFeedback) HasSitemap(u string) bool {
	for _, s := range f.SitemapURLs {
		if s == u {
			return true
		}
	}
	return false
}

// IndexingRecord is the extraction result for one fetched page. Only URL is
// guaranteed to be set.
type IndexingRecord struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PageText    string `json:"pageText"`
}

// WebsiteRecord is the searchable row the indexer stores per URL.
type WebsiteRecord struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	PageText           string    `json:"pageText"`
	TitleMeaning       []float32 `json:"-"`
	DescriptionMeaning []float32 `json:"-"`
	PageMeaning        []float32 `json:"-"`
	IndexedAt          time.Time `json:"indexedAt"`
}

// SearchQuery is a paged search over indexed websites.
type SearchQuery struct {
	Query      string `json:"query"`
	PageSize   int    `json:"pageSize"`
	PageNumber int    `json:"pageNumber"`
}

// Offset returns the row offset of the requested page.
func (q SearchQuery) Offset() int {
	if q.PageNumber < 1 {
		return 0
	}
	return (q.PageNumber - 1) * q.PageSize
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation. Error
// statuses are returned as responses, not errors.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// SnippetLength caps the page-text fallback of a search snippet, in runes.
const SnippetLength = 240

// Snippet prefers the description and falls back to the leading page text.
func Snippet(description, pageText string) string {
	if s := strings.TrimSpace(description); s != "" {
		return s
	}
	runes := []rune(strings.TrimSpace(pageText))
	if len(runes) > SnippetLength {
		return string(runes[:SnippetLength])
	}
	return string(runes)
}
