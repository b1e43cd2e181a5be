package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a queued URL over the network, disk, or an archive.
type Fetcher interface {
	Fetch(ctx context.Context, task CrawlTask) (FetchOutcome, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes index events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces index document IDs.
type IDGenerator interface {
	NewID() (string, error)
}
