// Package progress streams crawl activity. Workers emit one event per finished
// task and the app brackets each crawl session with start and end events. A
// Hub batches them on a background goroutine and fans batches out to sinks.
package progress
