package repo

import (
	"context"
	"database/sql"

	"leadpilot/internal/domain"
)

func (r Repo) GetSearchCache(ctx context.Context, tenantID, kind, query string) (domain.SearchCacheEntry, error) {
	var e domain.SearchCacheEntry
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,kind,query,result_text,entries_json,created_at
FROM search_cache WHERE tenant_id=? AND kind=? AND query=?`, tenantID, kind, query).
		Scan(&e.TenantID, &e.Kind, &e.Query, &e.ResultText, &e.EntriesJSON, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) UpsertSearchCache(ctx context.Context, e domain.SearchCacheEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO search_cache(tenant_id,kind,query,result_text,entries_json,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(tenant_id,kind,query) DO UPDATE SET result_text=excluded.result_text, entries_json=excluded.entries_json, created_at=excluded.created_at`,
		e.TenantID, e.Kind, e.Query, e.ResultText, e.EntriesJSON, e.CreatedAt)
	return err
}
