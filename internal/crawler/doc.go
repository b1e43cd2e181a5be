// Package crawler defines the records, outcomes, and collaborator interfaces
// shared by the crawl queue, fetchers, workers, and the document store.
package crawler
