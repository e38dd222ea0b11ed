// Package crawler holds the domain of the crawl pipeline: the messages that
// travel between crawler, indexer and scheduler, the robots.txt parser, task
// classification and HTML extraction.
package crawler
