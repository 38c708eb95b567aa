package lookup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/db"
	"leadpilot/internal/domain"
	"leadpilot/internal/lookup"
	"leadpilot/internal/migrate"
	"leadpilot/internal/repo"
)

const testTenant = "tenant-1"

type fakeProvider struct {
	name    string
	text    string
	entries []lookup.Entry
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) (string, []lookup.Entry, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	return f.text, f.entries, nil
}

func newTestSearcher(t *testing.T, primary, secondary lookup.Provider) (*lookup.Searcher, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	return lookup.NewSearcher(r, primary, secondary, zap.NewNop()), r
}

func seedTaggedContact(t *testing.T, r repo.Repo, id, tag string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	err := r.InsertContact(context.Background(), domain.Contact{
		ID:        id,
		TenantID:  testTenant,
		Name:      "Contact " + id,
		Status:    "new",
		Tags:      []string{tag},
		Website:   "https://" + id + ".example.com",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	s, _ := newTestSearcher(t, nil, nil)
	if _, err := s.Search(context.Background(), testTenant, "business", "", 5); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestStoredLayerShortCircuits(t *testing.T) {
	primary := &fakeProvider{name: "oracle", entries: []lookup.Entry{{Name: "remote"}}}
	s, r := newTestSearcher(t, primary, nil)
	for _, id := range []string{"c1", "c2", "c3"} {
		seedTaggedContact(t, r, id, "plumbers")
	}

	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "stored" {
		t.Fatalf("layer = %s, want stored", res.Layer)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(res.Entries))
	}
	if primary.calls != 0 {
		t.Fatalf("provider called despite stored hit")
	}
}

func TestStoredLayerNeedsEnoughMatches(t *testing.T) {
	primary := &fakeProvider{name: "oracle", text: "remote hits", entries: []lookup.Entry{{Name: "remote"}}}
	s, r := newTestSearcher(t, primary, nil)
	// two tagged contacts sit below the floor of three
	seedTaggedContact(t, r, "c1", "plumbers")
	seedTaggedContact(t, r, "c2", "plumbers")

	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "oracle" {
		t.Fatalf("layer = %s, want oracle", res.Layer)
	}
	if primary.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", primary.calls)
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	primary := &fakeProvider{name: "oracle", entries: []lookup.Entry{{Name: "remote"}}}
	s, r := newTestSearcher(t, primary, nil)
	err := r.UpsertSearchCache(context.Background(), domain.SearchCacheEntry{
		TenantID:    testTenant,
		Kind:        "business",
		Query:       "plumbers",
		ResultText:  "cached hits",
		EntriesJSON: `[{"name":"Pipe Co"},{"name":"Drain Co"}]`,
		CreatedAt:   time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "cache" || res.ResultText != "cached hits" || len(res.Entries) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.calls != 0 {
		t.Fatalf("provider called despite fresh cache")
	}
}

func TestExpiredCacheFallsThrough(t *testing.T) {
	primary := &fakeProvider{name: "oracle", text: "fresh hits", entries: []lookup.Entry{{Name: "remote"}}}
	s, r := newTestSearcher(t, primary, nil)
	err := r.UpsertSearchCache(context.Background(), domain.SearchCacheEntry{
		TenantID:    testTenant,
		Kind:        "business",
		Query:       "plumbers",
		ResultText:  "stale",
		EntriesJSON: `[{"name":"Old Co"}]`,
		CreatedAt:   time.Now().UTC().Add(-25 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "oracle" {
		t.Fatalf("layer = %s, want oracle", res.Layer)
	}

	// the provider hit replaces the stale row
	cached, err := r.GetSearchCache(context.Background(), testTenant, "business", "plumbers")
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if cached.ResultText != "fresh hits" {
		t.Fatalf("cache not refreshed: %+v", cached)
	}
}

func TestCacheTruncatesToLimit(t *testing.T) {
	s, r := newTestSearcher(t, nil, nil)
	err := r.UpsertSearchCache(context.Background(), domain.SearchCacheEntry{
		TenantID:    testTenant,
		Kind:        "business",
		Query:       "plumbers",
		ResultText:  "cached",
		EntriesJSON: `[{"name":"a"},{"name":"b"},{"name":"c"}]`,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(res.Entries))
	}
}

func TestPrimaryErrorFallsToSecondary(t *testing.T) {
	primary := &fakeProvider{name: "oracle", err: errors.New("upstream 500")}
	secondary := &fakeProvider{name: "directory", text: "backup hits", entries: []lookup.Entry{{Name: "Backup Co"}}}
	s, r := newTestSearcher(t, primary, secondary)

	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "directory" || res.ResultText != "backup hits" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("calls primary=%d secondary=%d", primary.calls, secondary.calls)
	}
	// the fallback result is still cached
	cached, err := r.GetSearchCache(context.Background(), testTenant, "business", "plumbers")
	if err != nil || cached.ResultText != "backup hits" {
		t.Fatalf("fallback not cached: %+v err=%v", cached, err)
	}
}

func TestExhaustedCascade(t *testing.T) {
	primary := &fakeProvider{name: "oracle"}
	s, _ := newTestSearcher(t, primary, nil)
	res, err := s.Search(context.Background(), testTenant, "business", "plumbers", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Layer != "none" || len(res.Entries) != 0 || res.ResultText != "no results" {
		t.Fatalf("unexpected empty result: %+v", res)
	}
}
