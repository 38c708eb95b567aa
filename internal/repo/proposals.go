package repo

import (
	"context"
	"database/sql"
	"strings"

	"leadpilot/internal/domain"
)

const proposalColumns = `id,tenant_id,type,status,title,description,module,contact_id,contact_name,payload_json,source,created_at,resolved_at`

func scanProposal(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var description, module, contactID, contactName, resolvedAt sql.NullString
	err := scan(&p.ID, &p.TenantID, &p.Type, &p.Status, &p.Title, &description, &module,
		&contactID, &contactName, &p.PayloadJSON, &p.Source, &p.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if description.Valid {
		p.Description = description.String
	}
	if module.Valid {
		p.Module = module.String
	}
	if contactID.Valid {
		p.ContactID = &contactID.String
	}
	if contactName.Valid {
		p.ContactName = &contactName.String
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.String
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(`+proposalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TenantID, p.Type, p.Status, p.Title, nullable(p.Description), nullable(p.Module),
		nullableStringPtr(p.ContactID), nullableStringPtr(p.ContactName), p.PayloadJSON, p.Source,
		p.CreatedAt, nullableStringPtr(p.ResolvedAt))
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

type ProposalFilters struct {
	TenantID string
	Status   string
	Limit    int
}

// ListProposals returns proposals newest-first, capped by Limit.
func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// FindPendingDuplicate returns an existing pending proposal with the same
// (tenant, type, contact), if any.
func (r Repo) FindPendingDuplicate(ctx context.Context, tenantID string, actionType domain.ActionType, contactID string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals
WHERE tenant_id=? AND type=? AND contact_id=? AND status=? ORDER BY created_at DESC LIMIT 1`,
		tenantID, string(actionType), contactID, string(domain.StatusPending))
	return scanProposal(row.Scan)
}

// TransitionPatch carries the fields a status transition may update.
type TransitionPatch struct {
	ResolvedAt  string
	PayloadJSON *string
}

// TransitionProposal performs the guarded status transition. The WHERE clause
// on the stored status is the concurrency guard: zero affected rows means the
// row is gone or owned by another tenant (ErrNotFound) or was resolved by a
// concurrent actor (ErrConflict).
func (r Repo) TransitionProposal(ctx context.Context, tx *sql.Tx, tenantID, id string, from, to domain.Status, patch TransitionPatch) (domain.Proposal, error) {
	res, err := tx.ExecContext(ctx, `UPDATE proposals
SET status=?, resolved_at=?, payload_json=COALESCE(?, payload_json)
WHERE id=? AND tenant_id=? AND status=?`,
		string(to), nullable(patch.ResolvedAt), nullableStringPtr(patch.PayloadJSON), id, tenantID, string(from))
	if err != nil {
		return domain.Proposal{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Proposal{}, err
	}
	if affected == 0 {
		cur, getErr := r.GetProposalTx(ctx, tx, id)
		if getErr != nil || cur.TenantID != tenantID {
			return domain.Proposal{}, ErrNotFound
		}
		return domain.Proposal{}, ErrConflict
	}
	return r.GetProposalTx(ctx, tx, id)
}

// TransitionProposals moves every listed proposal currently in the from
// status into to, in one statement, and returns the rows that matched.
// IDs in another status or belonging to another tenant are silently skipped.
func (r Repo) TransitionProposals(ctx context.Context, tx *sql.Tx, tenantID string, ids []string, from, to domain.Status, resolvedAt string) ([]domain.Proposal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, tenantID, string(from))
	rows, err := tx.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id IN (`+placeholders+`) AND tenant_id=? AND status=?`, args...)
	if err != nil {
		return nil, err
	}
	var matched []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matched = append(matched, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	updArgs := []any{string(to), resolvedAt}
	updPlaceholders := strings.Repeat("?,", len(matched))
	updPlaceholders = updPlaceholders[:len(updPlaceholders)-1]
	for _, p := range matched {
		updArgs = append(updArgs, p.ID)
	}
	updArgs = append(updArgs, string(from))
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, resolved_at=? WHERE id IN (`+updPlaceholders+`) AND status=?`, updArgs...); err != nil {
		return nil, err
	}
	for i := range matched {
		matched[i].Status = string(to)
		ts := resolvedAt
		matched[i].ResolvedAt = &ts
	}
	return matched, nil
}
