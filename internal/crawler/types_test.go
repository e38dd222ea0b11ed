package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnippet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "desc", Snippet("  desc ", "text"))
	assert.Equal(t, "text", Snippet("", " text "))
	assert.Len(t, []rune(Snippet("", strings.Repeat("é", SnippetLength+10))), SnippetLength)
}

func TestSearchQueryOffset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, SearchQuery{PageSize: 10, PageNumber: 1}.Offset())
	assert.Equal(t, 20, SearchQuery{PageSize: 10, PageNumber: 3}.Offset())
	assert.Equal(t, 0, SearchQuery{PageSize: 10}.Offset())
}

func TestCrawlingFeedbackHelpers(t *testing.T) {
	t.Parallel()

	f := CrawlingFeedback{CrawlDelay: 2, SitemapURLs: []string{"https://a.example/sitemap.xml"}}
	assert.Equal(t, 2*time.Second, f.Delay())
	assert.True(t, f.HasSitemap("https://a.example/sitemap.xml"))
	assert.False(t, f.HasSitemap("https://b.example/sitemap.xml"))
}
