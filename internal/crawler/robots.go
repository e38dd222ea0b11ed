package crawler

import (
	"bufio"
	"strconv"
	"strings"
)

// Maximum size of robots.txt to parse (1MB).
const maxRobotsTxtSize = 1 << 20

// ParseRobots parses robots.txt text into feedback for baseURL. Only groups
// whose User-agent is "*" or exactly token are honored. Directive keys match
// case-insensitively; User-agent values match case-sensitively.
func ParseRobots(baseURL, text, token string) CrawlingFeedback {
	fb := CrawlingFeedback{
		BaseURL:         baseURL,
		AllowedPaths:    []string{},
		DisallowedPaths: []string{},
		SitemapURLs:     []string{},
	}
	if len(text) > maxRobotsTxtSize {
		text = text[:maxRobotsTxtSize]
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxRobotsTxtSize)

	var (
		active   bool
		inAgents bool // previous directive was a User-agent line
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if idx := strings.Index(value, "#"); idx != -1 {
			value = value[:idx]
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		// Consecutive User-agent lines share one group (RFC 9309 section 2.1),
		// so a group naming the token anywhere in its agent list applies.
		if key == "user-agent" {
			if !inAgents {
				active = false
			}
			inAgents = true
			if value == "*" || value == token {
				active = true
			}
			continue
		}
		inAgents = false
		if !active {
			continue
		}

		switch key {
		case "disallow":
			fb.DisallowedPaths = append(fb.DisallowedPaths, value)
		case "allow":
			fb.AllowedPaths = append(fb.AllowedPaths, value)
		case "sitemap":
			fb.SitemapURLs = append(fb.SitemapURLs, value)
		case "crawl-delay":
			if delay, err := strconv.Atoi(value); err == nil && delay >= 0 {
				fb.CrawlDelay = delay
			}
		}
	}
	return fb
}
