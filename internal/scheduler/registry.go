package scheduler

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/gfd-crawler/internal/crawler"
)

// DefaultRegistrySize bounds the number of hosts kept when size <= 0.
const DefaultRegistrySize = 10000

// Registry keeps the latest crawling feedback per host. The least recently
// updated hosts are evicted first.
type Registry struct {
	cache *lru.Cache[string, crawler.CrawlingFeedback]
}

// NewRegistry creates a Registry holding at most size hosts.
func NewRegistry(size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.New[string, crawler.CrawlingFeedback](size)
	if err != nil {
		return nil, fmt.Errorf("create policy registry: %w", err)
	}
	return &Registry{cache: cache}, nil
}

// Put stores feedback under its host and returns that host.
func (r *Registry) Put(feedback crawler.CrawlingFeedback) (string, error) {
	host, err := hostOf(feedback.BaseURL)
	if err != nil {
		return "", err
	}
	r.cache.Add(host, feedback)
	return host, nil
}

// Get returns the feedback stored for host.
func (r *Registry) Get(host string) (crawler.CrawlingFeedback, bool) {
	return r.cache.Get(strings.ToLower(host))
}

// Len reports the number of hosts held.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
