// Package state holds the process-wide flags shared by workers, the plugin
// host and the RPC server.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AppState is the typed replacement for a free-form flag map. It is safe
// for concurrent use.
type AppState struct {
	startedAt time.Time

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	plugins map[string]bool
}

// New returns a running (unpaused) AppState.
func New(startedAt time.Time) *AppState {
	return &AppState{
		startedAt: startedAt,
		resume:    closedChan(),
		plugins:   make(map[string]bool),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// StartedAt is the process start time.
func (s *AppState) StartedAt() time.Time {
	return s.startedAt
}

// Paused reports whether crawling is paused.
func (s *AppState) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetPaused pauses or resumes crawling. It reports the previous value.
func (s *AppState) SetPaused(paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.paused
	switch {
	case paused && !prev:
		s.resume = make(chan struct{})
	case !paused && prev:
		close(s.resume)
	}
	s.paused = paused
	return prev
}

// WaitWhilePaused blocks until crawling is resumed or ctx ends.
func (s *AppState) WaitWhilePaused(ctx context.Context) error {
	s.mu.Lock()
	resume := s.resume
	s.mu.Unlock()
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for resume: %w", ctx.Err())
	}
}

// RegisterPlugin records a plugin with its initial enabled flag. An already
// registered plugin keeps its current flag.
func (s *AppState) RegisterPlugin(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[name]; !ok {
		s.plugins[name] = enabled
	}
}

// PluginEnabled reports whether a registered plugin is enabled.
func (s *AppState) PluginEnabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plugins[name]
}

// TogglePlugin flips a plugin's flag and returns the new value. The second
// result is false when the plugin is not registered.
func (s *AppState) TogglePlugin(name string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok := s.plugins[name]
	if !ok {
		return false, false
	}
	s.plugins[name] = !enabled
	return !enabled, true
}

// Plugins returns the registered plugin names in order.
func (s *AppState) Plugins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.plugins))
	for name := range s.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
