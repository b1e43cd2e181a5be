// Package policy decides whether a URL may be fetched and indexed. It
// compiles robots.txt directives, per-domain resource rules, and lens rules
// into regular expressions and evaluates them without touching storage.
package policy

import (
	"net/url"
	"regexp"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// DefaultPatternCacheSize bounds the compiled resource-rule patterns an
// Engine keeps.
const DefaultPatternCacheSize = 4096

// Decision is the answer of the policy engine for one URL.
type Decision int

// Possible decisions.
const (
	Allow Decision = iota
	Deny
	// SkipNoIndex allows fetching for link discovery but keeps the page out of the index.
	SkipNoIndex
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case SkipNoIndex:
		return "skip_no_index"
	default:
		return "unknown"
	}
}

// Engine evaluates resource rules, lens rules, and the global block list.
// It is safe for concurrent use.
type Engine struct {
	blocklist *Blocklist

	mu    sync.Mutex
	cache *lru.Cache
}

// NewEngine builds an Engine with an optional domain block list.
func NewEngine(blocked []string) *Engine {
	return NewEngineWithCache(blocked, DefaultPatternCacheSize)
}

// NewEngineWithCache is NewEngine with a custom bound on cached patterns.
func NewEngineWithCache(blocked []string, size int) *Engine {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	return &Engine{
		blocklist: NewBlocklist(blocked),
		cache:     lru.New(size),
	}
}

// IsAllowed answers whether rawURL may be fetched under lens, given the
// resource rules stored for its domain. Resource rules are applied first,
// then lens rules, then the matched rule's no_index flag.
func (e *Engine) IsAllowed(rawURL string, lens *RuleSet, rules []crawler.ResourceRule) Decision {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Deny
	}
	if e.blocklist.IsBlocked(u.Hostname()) {
		return Deny
	}

	matched, found := e.MatchResourceRule(requestPath(u), rules)
	if found && !matched.AllowCrawl {
		return Deny
	}
	if lens.Denies(rawURL) {
		return Deny
	}
	if found && matched.NoIndex {
		return SkipNoIndex
	}
	return Allow
}

// MatchResourceRule selects the most specific rule matching path. Equal
// specificity prefers the disallow rule.
func (e *Engine) MatchResourceRule(path string, rules []crawler.ResourceRule) (crawler.ResourceRule, bool) {
	var (
		best  crawler.ResourceRule
		found bool
	)
	for _, rule := range rules {
		re := e.compiled(rule.RulePath)
		if re == nil || !re.MatchString(path) {
			continue
		}
		switch {
		case !found:
			best, found = rule, true
		case len(rule.RulePath) > len(best.RulePath):
			best = rule
		case len(rule.RulePath) == len(best.RulePath) && !rule.AllowCrawl && best.AllowCrawl:
			best = rule
		}
	}
	return best, found
}

// Blocked reports whether the host is on the global block list.
func (e *Engine) Blocked(host string) bool {
	return e.blocklist.IsBlocked(host)
}

// compiled returns the regex of a rule path, or nil when it does not
// compile. Both results are cached.
func (e *Engine) compiled(pattern string) *regexp.Regexp {
	e.mu.Lock()
	cached, ok := e.cache.Get(pattern)
	e.mu.Unlock()
	if ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := CompileWildcard(pattern)
	if err != nil {
		re = nil
	}
	e.mu.Lock()
	e.cache.Add(pattern, re)
	e.mu.Unlock()
	return re
}

// CachedPatterns reports how many compiled patterns are held.
func (e *Engine) CachedPatterns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

func requestPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
