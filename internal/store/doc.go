// Package store defines the repository interfaces for crawl tasks, resource
// rules, indexed documents, tags, and links. Implementations live in the
// storage packages; this package must not import database drivers or
// concrete clients.
package store
