// Package linkgraph records cross-domain edges found while parsing pages.
package linkgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

// Defaults for the in-session edge filter.
const (
	DefaultExpectedEdges = 1_000_000
	DefaultFalsePositive = 0.001
)

// Graph writes edges through a LinkRepository. A bloom filter remembers the
// edges seen in this process: a miss is certainly new and goes straight to
// the insert, a hit may be a false positive and is checked with a read
// before anything is written.
type Graph struct {
	repo store.LinkRepository

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// New builds a Graph sized for expected edges.
func New(repo store.LinkRepository, expected uint, fpRate float64) *Graph {
	if expected == 0 {
		expected = DefaultExpectedEdges
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFalsePositive
	}
	return &Graph{repo: repo, seen: bloom.NewWithEstimates(expected, fpRate)}
}

// RecordEdge stores src -> dst when the URLs are on different domains. It
// returns true when a new row was written.
func (g *Graph) RecordEdge(ctx context.Context, src, dst string) (bool, error) {
	srcDomain, err := crawler.Domain(src)
	if err != nil {
		return false, fmt.Errorf("link source %q: %w", src, err)
	}
	dstDomain, err := crawler.Domain(dst)
	if err != nil {
		return false, fmt.Errorf("link target %q: %w", dst, err)
	}
	if srcDomain == dstDomain {
		return false, nil
	}

	key := src + "\x00" + dst
	g.mu.Lock()
	maybeSeen := g.seen.TestString(key)
	g.mu.Unlock()
	if maybeSeen {
		stored, err := g.repo.HasLink(ctx, src, dst)
		if err != nil {
			return false, err
		}
		if stored {
			return false, nil
		}
	}

	inserted, err := g.repo.InsertLink(ctx, crawler.Link{
		SrcDomain: srcDomain,
		SrcURL:    src,
		DstDomain: dstDomain,
		DstURL:    dst,
	})
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	g.seen.AddString(key)
	g.mu.Unlock()
	return inserted, nil
}

// SeenApprox returns the approximate number of edges seen in this session.
func (g *Graph) SeenApprox() uint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint(g.seen.ApproximatedSize())
}
