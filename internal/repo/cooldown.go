package repo

import (
	"context"
	"database/sql"
	"time"
)

// LastAnalysisRun returns the persisted timestamp of the last proactive
// analysis for a tenant. Zero time means it has never run.
func (r Repo) LastAnalysisRun(ctx context.Context, tenantID string) (time.Time, error) {
	var ts string
	err := r.DB.QueryRowContext(ctx, `SELECT last_run_at FROM analysis_runs WHERE tenant_id=?`, tenantID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, ts)
}

func (r Repo) SetLastAnalysisRun(ctx context.Context, tenantID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO analysis_runs(tenant_id,last_run_at) VALUES (?,?)
ON CONFLICT(tenant_id) DO UPDATE SET last_run_at=excluded.last_run_at`,
		tenantID, at.UTC().Format(time.RFC3339))
	return err
}
