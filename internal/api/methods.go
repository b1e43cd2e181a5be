package api

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/lens"
	"github.com/JakeFAU/lenscrawl/internal/plugin"
)

// DefaultSearchLimit bounds search_docs results per page.
const DefaultSearchLimit = 10

// AppStatus is the state_app_status result.
type AppStatus struct {
	NumDocs   uint64    `json:"num_docs"`
	IsPaused  bool      `json:"is_paused"`
	StartedAt time.Time `json:"started_at"`
}

// SearchParams are the state_search_docs params.
type SearchParams struct {
	Lenses []string `json:"lenses"`
	Query  string   `json:"query"`
	Offset int      `json:"offset,omitempty"`
}

// SearchResult is one document hit.
type SearchResult struct {
	DocID       string  `json:"doc_id"`
	Domain      string  `json:"domain"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Score       float64 `json:"score"`
}

// SearchMeta describes a search_docs call.
type SearchMeta struct {
	Query      string `json:"query"`
	NumDocs    uint64 `json:"num_docs"`
	WallTimeMS int64  `json:"wall_time_ms"`
}

// SearchResults is the state_search_docs result.
type SearchResults struct {
	Results []SearchResult `json:"results"`
	Meta    SearchMeta     `json:"meta"`
}

// LensResult describes an installed lens.
type LensResult struct {
	Author      string `json:"author"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	IsEnabled   bool   `json:"is_enabled"`
}

// SearchLensesResult is the state_search_lenses result.
type SearchLensesResult struct {
	Results []LensResult `json:"results"`
}

func (s *Server) registerMethods() map[string]handlerFunc {
	return map[string]handlerFunc{
		MethodPrefix + "app_status":            s.appStatus,
		MethodPrefix + "crawl_stats":           s.crawlStats,
		MethodPrefix + "search_docs":           s.searchDocs,
		MethodPrefix + "search_lenses":         s.searchLenses,
		MethodPrefix + "delete_doc":            s.deleteDoc,
		MethodPrefix + "delete_domain":         s.deleteDomain,
		MethodPrefix + "recrawl_domain":        s.recrawlDomain,
		MethodPrefix + "toggle_pause":          s.togglePause,
		MethodPrefix + "toggle_plugin":         s.togglePlugin,
		MethodPrefix + "list_installed_lenses": s.listInstalledLenses,
		MethodPrefix + "list_plugins":          s.listPlugins,
	}
}

func (s *Server) appStatus(_ context.Context, _ json.RawMessage) (any, error) {
	n, err := s.deps.Searcher.DocCount()
	if err != nil {
		return nil, err
	}
	return AppStatus{
		NumDocs:   n,
		IsPaused:  s.deps.State.Paused(),
		StartedAt: s.deps.State.StartedAt(),
	}, nil
}

func (s *Server) crawlStats(ctx context.Context, _ json.RawMessage) (any, error) {
	stats, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// searchDocs never fails on index errors: they yield an empty result set.
// Unknown lens names are rejected before the index is touched.
func (s *Server) searchDocs(ctx context.Context, raw json.RawMessage) (any, error) {
	var params SearchParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Offset < 0 {
		return nil, invalidParams("offset must not be negative")
	}
	if err := s.deps.Lenses.Validate(params.Lenses); err != nil {
		return nil, invalidParams("%v", err)
	}

	start := time.Now()
	out := SearchResults{Results: []SearchResult{}, Meta: SearchMeta{Query: params.Query}}
	if n, err := s.deps.Searcher.DocCount(); err == nil {
		out.Meta.NumDocs = n
	}
	hits, err := s.deps.Searcher.Search(ctx, params.Query, params.Lenses, params.Offset+DefaultSearchLimit)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", params.Query), zap.Error(err))
		hits = nil
	}
	if params.Offset < len(hits) {
		for _, h := range hits[params.Offset:] {
			out.Results = append(out.Results, SearchResult{
				DocID:       h.DocID,
				Domain:      h.Domain,
				Title:       h.Title,
				Description: h.Description,
				URL:         h.URL,
				Score:       h.Score,
			})
		}
	}
	out.Meta.WallTimeMS = time.Since(start).Milliseconds()
	return out, nil
}

// searchLenses matches installed lens names case-insensitively by substring.
func (s *Server) searchLenses(_ context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(params.Query))
	results := []LensResult{}
	for _, l := range s.deps.Lenses.List() {
		if !strings.Contains(strings.ToLower(l.Name), query) {
			continue
		}
		results = append(results, s.lensResult(l))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
	})
	return SearchLensesResult{Results: results}, nil
}

func (s *Server) deleteDoc(ctx context.Context, raw json.RawMessage) (any, error) {
	var id string
	if err := decodeArg(raw, "id", &id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, invalidParams("id is required")
	}
	if err := s.deps.Documents.Delete(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) deleteDomain(ctx context.Context, raw json.RawMessage) (any, error) {
	domain, err := domainArg(raw)
	if err != nil {
		return nil, err
	}
	docs, err := s.deps.Documents.DeleteDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	tasks, err := s.deps.Queue.DeleteByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	s.logger.Info("domain deleted", zap.String("domain", domain), zap.Int("documents", docs), zap.Int64("tasks", tasks))
	return nil, nil
}

func (s *Server) recrawlDomain(ctx context.Context, raw json.RawMessage) (any, error) {
	domain, err := domainArg(raw)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Queue.Recrawl(ctx, domain); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) togglePause(_ context.Context, raw json.RawMessage) (any, error) {
	var paused bool
	if err := decodeArg(raw, "is_paused", &paused); err != nil {
		return nil, err
	}
	if prev := s.deps.State.SetPaused(paused); prev != paused {
		s.logger.Info("crawler pause toggled", zap.Bool("is_paused", paused))
	}
	return nil, nil
}

func (s *Server) togglePlugin(ctx context.Context, raw json.RawMessage) (any, error) {
	var name string
	if err := decodeArg(raw, "name", &name); err != nil {
		return nil, err
	}
	if s.deps.Plugins == nil {
		return nil, invalidParams("plugins are disabled")
	}
	enabled, err := s.deps.Plugins.Toggle(ctx, name)
	if errors.Is(err, plugin.ErrUnknownPlugin) {
		return nil, invalidParams("%v", err)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("plugin toggled", zap.String("plugin", name), zap.Bool("is_enabled", enabled))
	return nil, nil
}

func (s *Server) listInstalledLenses(_ context.Context, _ json.RawMessage) (any, error) {
	lenses := s.deps.Lenses.List()
	out := make([]LensResult, 0, len(lenses))
	for _, l := range lenses {
		out = append(out, s.lensResult(l))
	}
	return out, nil
}

func (s *Server) listPlugins(_ context.Context, _ json.RawMessage) (any, error) {
	if s.deps.Plugins == nil {
		return []plugin.Info{}, nil
	}
	return s.deps.Plugins.List(), nil
}

func (s *Server) lensResult(l *lens.Lens) LensResult {
	return LensResult{
		Author:      l.Author,
		Name:        l.Name,
		Description: l.Description,
		Version:     l.Version,
		IsEnabled:   s.deps.Lenses.IsEnabled(l.Name),
	}
}

func domainArg(raw json.RawMessage) (string, error) {
	var domain string
	if err := decodeArg(raw, "domain", &domain); err != nil {
		return "", err
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || strings.ContainsAny(domain, "/ ") {
		return "", invalidParams("invalid domain %q", domain)
	}
	return domain, nil
}
