package repo

import (
	"context"
	"database/sql"
	"fmt"

	"leadpilot/internal/domain"
)

func statColumn(outcome domain.Outcome) (string, error) {
	switch outcome {
	case domain.OutcomeApproved:
		return "approved_count", nil
	case domain.OutcomeDismissed:
		return "dismissed_count", nil
	case domain.OutcomeAutoApproved:
		return "auto_approved_count", nil
	}
	return "", fmt.Errorf("unknown outcome %q", outcome)
}

// IncrementStat upserts the counter row and bumps exactly one column.
// Counters only ever go up; undo is a correction, not a stat edit.
func (r Repo) IncrementStat(ctx context.Context, tx *sql.Tx, tenantID string, actionType domain.ActionType, outcome domain.Outcome, now string) error {
	col, err := statColumn(outcome)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO proposal_stats(tenant_id,action_type,%s,updated_at) VALUES (?,?,1,?)
ON CONFLICT(tenant_id,action_type) DO UPDATE SET %s=%s+1, updated_at=excluded.updated_at`, col, col, col),
		tenantID, string(actionType), now)
	return err
}

func (r Repo) GetStat(ctx context.Context, tenantID string, actionType domain.ActionType) (domain.ProposalStat, error) {
	var s domain.ProposalStat
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,action_type,approved_count,dismissed_count,auto_approved_count,updated_at
FROM proposal_stats WHERE tenant_id=? AND action_type=?`, tenantID, string(actionType)).
		Scan(&s.TenantID, &s.ActionType, &s.ApprovedCount, &s.DismissedCount, &s.AutoApprovedCount, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStats(ctx context.Context, tenantID string) ([]domain.ProposalStat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tenant_id,action_type,approved_count,dismissed_count,auto_approved_count,updated_at
FROM proposal_stats WHERE tenant_id=? ORDER BY action_type`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProposalStat
	for rows.Next() {
		var s domain.ProposalStat
		if err := rows.Scan(&s.TenantID, &s.ActionType, &s.ApprovedCount, &s.DismissedCount, &s.AutoApprovedCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
