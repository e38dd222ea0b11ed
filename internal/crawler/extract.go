package crawler

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractPage pulls the title, meta description and visible body text out of
// an HTML document. Script and style subtrees are dropped before reading text.
func ExtractPage(pageURL string, body []byte) (IndexingRecord, error) {
	record := IndexingRecord{URL: pageURL}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return record, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style").Remove()

	record.Title = collapseSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find("meta[name='description']").First().Attr("content"); ok {
		record.Description = strings.TrimSpace(desc)
	}
	record.PageText = collapseSpace(doc.Find("body").Text())
	return record, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
