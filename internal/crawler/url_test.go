package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPolicyTask(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want bool
	}{
		{"https://example.com/robots.txt", true},
		{"http://example.com:8080/robots.txt", true},
		{"https://example.com/ROBOTS.TXT", true},
		{"https://example.com/robots.txt?x=1", false},
		{"https://example.com/robots.txt?", false},
		{"https://example.com/a/robots.txt", false},
		{"https://example.com/", false},
		{"ftp://example.com/robots.txt", false},
		{"/robots.txt", false},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := url.Parse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, IsPolicyTask(u))
		})
	}
	assert.False(t, IsPolicyTask(nil))
}

func TestAuthorityHelpers(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://example.com:8443/some/page?q=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443", Authority(u))
	assert.Equal(t, "https://example.com:8443/robots.txt", RobotsURL(u))
	assert.Equal(t, "https://example.com:8443/sitemap.xml", SitemapURL(u))
}

func TestParseTaskURL(t *testing.T) {
	t.Parallel()

	u, err := ParseTaskURL("  https://example.com/a  ")
	require.NoError(t, err)
	assert.Equal(t, "/a", u.Path)

	_, err = ParseTaskURL("mailto:someone@example.com")
	require.Error(t, err)
	_, err = ParseTaskURL("relative/path")
	require.Error(t, err)
}

func TestParseTaskURLNormalizes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want string
	}{
		{"HTTPS://Example.COM:443/p?b=2&a=1#x", "https://example.com/p?a=1&b=2"},
		{"http://Example.com:80/Path", "http://example.com/Path"},
		{"https://example.com:8443/p", "https://example.com:8443/p"},
		{"https://example.com/p?q=a;b", "https://example.com/p?q=a;b"},
		{"https://EXAMPLE.com/robots.txt?", "https://example.com/robots.txt?"},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := ParseTaskURL(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, u.String())
		})
	}

	a, err := ParseTaskURL("https://Example.com:443/page#top")
	require.NoError(t, err)
	b, err := ParseTaskURL("https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, b.String(), a.String())

	u, err := ParseTaskURL("https://example.com/robots.txt?")
	require.NoError(t, err)
	assert.False(t, IsPolicyTask(u))

	_, err = ParseTaskURL("http://%")
	require.Error(t, err)
}
