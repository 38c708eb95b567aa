package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/config"
	"leadpilot/internal/domain"
	"leadpilot/internal/repo"
)

// Entry is one normalized business-discovery hit.
type Entry struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the normalized shape every layer of the cascade produces.
type Result struct {
	ResultText string  `json:"result_text"`
	Entries    []Entry `json:"entries"`
	Layer      string  `json:"layer"`
}

// Provider is an external search backend. Implementations return their
// hits already normalized; an error or an empty result moves the cascade
// to the next layer.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) (string, []Entry, error)
}

// Searcher resolves a query through four layers in strict order:
// stored records tagged with the query, the persisted cache within its
// TTL, the primary provider, then the secondary provider.
type Searcher struct {
	Repo      repo.Repo
	Primary   Provider
	Secondary Provider
	Logger    *zap.Logger
	Config    func(ctx context.Context, tenantID string) *config.Config
	Now       func() time.Time
}

func NewSearcher(r repo.Repo, primary, secondary Provider, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		Repo:      r,
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (s *Searcher) cfg(ctx context.Context, tenantID string) *config.Config {
	if s.Config != nil {
		return s.Config(ctx, tenantID)
	}
	return config.Default(tenantID)
}

// Search runs the cascade. A provider error never propagates; it falls
// through to the next layer, and only a fully exhausted cascade returns
// an empty result.
func (s *Searcher) Search(ctx context.Context, tenantID, kind, query string, limit int) (Result, error) {
	if query == "" {
		return Result{}, fmt.Errorf("%w: query is required", domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 10
	}
	cfg := s.cfg(ctx, tenantID)

	if res, ok := s.fromStored(ctx, cfg, tenantID, query, limit); ok {
		return res, nil
	}
	if res, ok := s.fromCache(ctx, cfg, tenantID, kind, query, limit); ok {
		return res, nil
	}
	if res, ok := s.fromProvider(ctx, s.Primary, tenantID, kind, query, limit); ok {
		return res, nil
	}
	if res, ok := s.fromProvider(ctx, s.Secondary, tenantID, kind, query, limit); ok {
		return res, nil
	}
	return Result{ResultText: "no results", Entries: []Entry{}, Layer: "none"}, nil
}

// fromStored rebuilds the response from contacts already tagged with the
// query. Zero external cost.
func (s *Searcher) fromStored(ctx context.Context, cfg *config.Config, tenantID, query string, limit int) (Result, bool) {
	contacts, err := s.Repo.ListContactsWithTag(ctx, tenantID, query, limit)
	if err != nil || len(contacts) < cfg.Discovery.MinStoredMatches {
		return Result{}, false
	}
	entries := make([]Entry, 0, len(contacts))
	for _, c := range contacts {
		entries = append(entries, Entry{
			Name:    c.Name,
			Website: c.Website,
			Phone:   c.Phone,
			Detail:  c.Notes,
		})
	}
	return Result{
		ResultText: fmt.Sprintf("%d stored matches for %q", len(entries), query),
		Entries:    entries,
		Layer:      "stored",
	}, true
}

// fromCache reuses a persisted entry younger than the TTL, provided it
// holds enough entries for the request (or at least one when the cache
// itself holds fewer than asked).
func (s *Searcher) fromCache(ctx context.Context, cfg *config.Config, tenantID, kind, query string, limit int) (Result, bool) {
	cached, err := s.Repo.GetSearchCache(ctx, tenantID, kind, query)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.Logger.Warn("search cache read failed", zap.Error(err))
		}
		return Result{}, false
	}
	createdAt, err := time.Parse(time.RFC3339, cached.CreatedAt)
	if err != nil || s.Now().UTC().Sub(createdAt) > cfg.CacheTTL() {
		return Result{}, false
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(cached.EntriesJSON), &entries); err != nil {
		return Result{}, false
	}
	if len(entries) == 0 {
		return Result{}, false
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return Result{ResultText: cached.ResultText, Entries: entries, Layer: "cache"}, true
}

func (s *Searcher) fromProvider(ctx context.Context, p Provider, tenantID, kind, query string, limit int) (Result, bool) {
	if p == nil {
		return Result{}, false
	}
	text, entries, err := p.Search(ctx, query, limit)
	if err != nil {
		s.Logger.Warn("search provider failed", zap.String("provider", p.Name()), zap.Error(err))
		return Result{}, false
	}
	if len(entries) == 0 {
		return Result{}, false
	}
	s.writeCache(ctx, tenantID, kind, query, text, entries)
	return Result{ResultText: text, Entries: entries, Layer: p.Name()}, true
}

// writeCache is best effort; a failed write never fails the search.
func (s *Searcher) writeCache(ctx context.Context, tenantID, kind, query, text string, entries []Entry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	err = s.Repo.UpsertSearchCache(ctx, domain.SearchCacheEntry{
		TenantID:    tenantID,
		Kind:        kind,
		Query:       query,
		ResultText:  text,
		EntriesJSON: string(raw),
		CreatedAt:   s.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.Logger.Warn("search cache write failed", zap.Error(err))
	}
}
