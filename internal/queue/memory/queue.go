// Package memory provides the bounded in-process hand-off between the
// dispatcher's claim loop and the workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// ErrClosed is returned by Dequeue after Close once the buffer drains.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of claimed tasks with context-aware operations.
type Queue struct {
	ch      chan crawler.CrawlTask
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.CrawlTask, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlTask, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return crawler.CrawlTask{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports how many tasks are buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the buffer capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
