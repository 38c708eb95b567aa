package stats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"leadpilot/internal/config"
	"leadpilot/internal/domain"
	"leadpilot/internal/repo"
)

// Tracker records proposal resolutions and answers the suppression query.
type Tracker struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Record increments exactly one counter for (tenant, type) inside the
// caller's transaction.
func (t Tracker) Record(ctx context.Context, tx *sql.Tx, tenantID string, actionType domain.ActionType, outcome domain.Outcome) error {
	now := t.now().UTC().Format(time.RFC3339)
	return t.Repo.IncrementStat(ctx, tx, tenantID, actionType, outcome, now)
}

// Suppressed applies the frequentist gate: below MinSamples resolutions
// there is no signal, so nothing is suppressed regardless of ratio.
func Suppressed(s domain.ProposalStat, cfg *config.Config) bool {
	minSamples := 5
	dismissRate := 0.7
	if cfg != nil {
		minSamples = cfg.Suppression.MinSamples
		dismissRate = cfg.Suppression.DismissRate
	}
	total := s.ApprovedCount + s.DismissedCount
	if total < minSamples {
		return false
	}
	return float64(s.DismissedCount)/float64(total) > dismissRate
}

// SuppressedTypes returns the action types the tenant has historically
// dismissed often enough to stop proposing proactively.
func (t Tracker) SuppressedTypes(ctx context.Context, cfg *config.Config, tenantID string) ([]domain.ActionType, error) {
	all, err := t.Repo.ListStats(ctx, tenantID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	var res []domain.ActionType
	for _, s := range all {
		if Suppressed(s, cfg) {
			res = append(res, domain.ActionType(s.ActionType))
		}
	}
	return res, nil
}
