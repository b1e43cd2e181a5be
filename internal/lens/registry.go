package lens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/policy"
)

// ErrUnknownLens is returned when a lens name is not loaded.
var ErrUnknownLens = errors.New("unknown lens")

// Registry holds the loaded lenses. It is safe for concurrent use.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	lenses  map[string]*Lens
	enabled map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger.Named("lens"),
		lenses:  make(map[string]*Lens),
		enabled: make(map[string]bool),
	}
}

// LoadDir reads every .yaml/.yml file in dir. Unreadable files and
// malformed rules are logged and skipped. It returns the lenses loaded.
func (r *Registry) LoadDir(dir string) ([]*Lens, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read lens dir %s: %w", dir, err)
	}
	var loaded []*Lens
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("unable to read lens", zap.String("path", path), zap.Error(err))
			continue
		}
		cfg, err := Parse(data)
		if err != nil {
			r.logger.Warn("unable to load lens", zap.String("path", path), zap.Error(err))
			continue
		}
		loaded = append(loaded, r.Add(cfg))
	}
	r.logger.Info("loaded lenses", zap.String("dir", dir), zap.Int("count", len(loaded)))
	return loaded, nil
}

// Add compiles cfg and registers it, replacing any lens of the same name.
func (r *Registry) Add(cfg Config) *Lens {
	l, errs := Compile(cfg)
	for _, err := range errs {
		r.logger.Warn("skipping malformed lens rule", zap.String("lens", cfg.Name), zap.Error(err))
	}
	r.mu.Lock()
	r.lenses[cfg.Name] = l
	r.enabled[cfg.Name] = cfg.Enabled()
	r.mu.Unlock()
	return l
}

// Get returns a lens by name.
func (r *Registry) Get(name string) (*Lens, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lenses[name]
	return l, ok
}

// IsEnabled reports whether a loaded lens is enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// SetEnabled toggles a lens.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lenses[name]; !ok {
		return fmt.Errorf("set enabled %q: %w", name, ErrUnknownLens)
	}
	r.enabled[name] = enabled
	return nil
}

// List returns every lens sorted by name.
func (r *Registry) List() []*Lens {
	r.mu.RLock()
	out := make([]*Lens, 0, len(r.lenses))
	for _, l := range r.lenses {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns the enabled lenses sorted by name.
func (r *Registry) Enabled() []*Lens {
	all := r.List()
	out := all[:0]
	for _, l := range all {
		if r.IsEnabled(l.Name) {
			out = append(out, l)
		}
	}
	return out
}

// Validate checks that every name refers to a loaded lens.
func (r *Registry) Validate(names []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if _, ok := r.lenses[name]; !ok {
			return fmt.Errorf("lens %q: %w", name, ErrUnknownLens)
		}
	}
	return nil
}

// Match returns the names of enabled lenses whose allow list covers rawURL.
func (r *Registry) Match(rawURL string) []string {
	var names []string
	for _, l := range r.Enabled() {
		if l.Covers(rawURL) {
			names = append(names, l.Name)
		}
	}
	return names
}

// Filter returns a predicate accepting URLs covered by any of the named
// lenses. With no names every enabled lens is consulted.
func (r *Registry) Filter(names ...string) func(string) bool {
	return func(rawURL string) bool {
		if len(names) == 0 {
			return len(r.Match(rawURL)) > 0
		}
		for _, name := range names {
			if l, ok := r.Get(name); ok && l.Covers(rawURL) {
				return true
			}
		}
		return false
	}
}

// RuleSets returns the compiled rules of the named lenses, skipping unknown
// names.
func (r *Registry) RuleSets(names []string) []*policy.RuleSet {
	out := make([]*policy.RuleSet, 0, len(names))
	for _, name := range names {
		if l, ok := r.Get(name); ok {
			out = append(out, l.Rules())
		}
	}
	return out
}
