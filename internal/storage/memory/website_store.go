package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/gfd-crawler/internal/crawler"
)

// WebsiteStore keeps indexed websites keyed by URL.
type WebsiteStore struct {
	mu    sync.RWMutex
	byURL map[string]crawler.WebsiteRecord
}

// NewWebsiteStore constructs an empty in-memory WebsiteStore.
func NewWebsiteStore() *WebsiteStore {
	return &WebsiteStore{byURL: make(map[string]crawler.WebsiteRecord)}
}

// Upsert stores record, replacing any record with the same URL. The first ID
// seen for a URL is kept.
func (s *WebsiteStore) Upsert(_ context.Context, record crawler.WebsiteRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if record.URL == "" {
		return errors.New("record url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byURL[record.URL]; ok {
		record.ID = existing.ID
	}
	s.byURL[record.URL] = record
	return nil
}

// Get returns the record stored for url.
func (s *WebsiteStore) Get(url string) (crawler.WebsiteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byURL[url]
	return rec, ok
}

// Len reports the number of stored websites.
func (s *WebsiteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// Search performs a case-insensitive substring match over
// title, description and URL, ordered by title then URL.
func (s *WebsiteStore) Search(_ context.Context, q crawler.SearchQuery) ([]crawler.SearchHit, int, error) {
	needle := strings.ToLower(q.Query)

	s.mu.RLock()
	matches := make([]crawler.WebsiteRecord, 0)
	for _, rec := range s.byURL {
		if strings.Contains(strings.ToLower(rec.Title), needle) ||
			strings.Contains(strings.ToLower(rec.Description), needle) ||
			strings.Contains(strings.ToLower(rec.URL), needle) {
			matches = append(matches, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Title != matches[j].Title {
			return matches[i].Title < matches[j].Title
		}
		return matches[i].URL < matches[j].URL
	})

	total := len(matches)
	start := min(q.Offset(), total)
	end := total
	if q.PageSize > 0 {
		end = min(start+q.PageSize, total)
	}
	hits := make([]crawler.SearchHit, 0, end-start)
	for _, rec := range matches[start:end] {
		hits = append(hits, crawler.SearchHit{
			Title:   rec.Title,
			URL:     rec.URL,
			Snippet: crawler.Snippet(rec.Description, rec.PageText),
		})
	}
	return hits, total, nil
}

// Ping always succeeds.
func (s *WebsiteStore) Ping(context.Context) error { return nil }
