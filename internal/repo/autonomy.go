package repo

import (
	"context"
	"database/sql"

	"leadpilot/internal/domain"
)

func (r Repo) GetAutonomySetting(ctx context.Context, tenantID string, actionType domain.ActionType) (domain.AutonomySetting, error) {
	var s domain.AutonomySetting
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,action_type,tier,updated_at FROM autonomy_settings WHERE tenant_id=? AND action_type=?`,
		tenantID, string(actionType)).Scan(&s.TenantID, &s.ActionType, &s.Tier, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpsertAutonomySetting(ctx context.Context, s domain.AutonomySetting) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO autonomy_settings(tenant_id,action_type,tier,updated_at) VALUES (?,?,?,?)
ON CONFLICT(tenant_id,action_type) DO UPDATE SET tier=excluded.tier, updated_at=excluded.updated_at`,
		s.TenantID, s.ActionType, s.Tier, s.UpdatedAt)
	return err
}

func (r Repo) ListAutonomySettings(ctx context.Context, tenantID string) ([]domain.AutonomySetting, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tenant_id,action_type,tier,updated_at FROM autonomy_settings WHERE tenant_id=? ORDER BY action_type`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AutonomySetting
	for rows.Next() {
		var s domain.AutonomySetting
		if err := rows.Scan(&s.TenantID, &s.ActionType, &s.Tier, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
