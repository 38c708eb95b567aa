package autonomy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/internal/config"
	"leadpilot/internal/domain"
	"leadpilot/internal/repo"
)

// defaultTiers is the static fallback used when a tenant has no stored
// setting and no config override for an action type.
var defaultTiers = map[domain.ActionType]domain.Tier{
	domain.ActionAddTag:              domain.TierAutoApprove,
	domain.ActionAddTask:             domain.TierAutoApprove,
	domain.ActionUpdateLeadScore:     domain.TierAutoApprove,
	domain.ActionBookAppointment:     domain.TierRequireApproval,
	domain.ActionUpdateContactStatus: domain.TierRequireApproval,
	domain.ActionRunWorkflow:         domain.TierRequireApproval,
	domain.ActionSendMessage:         domain.TierRequireApprovalPreview,
}

// DefaultTier returns the static default for an action type.
func DefaultTier(t domain.ActionType) domain.Tier {
	if tier, ok := defaultTiers[t]; ok {
		return tier
	}
	return domain.TierRequireApproval
}

// Resolver maps (tenant, action type) to an autonomy tier.
type Resolver struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve looks up the stored setting, then the tenant config override,
// then the static default table.
func (r Resolver) Resolve(ctx context.Context, cfg *config.Config, tenantID string, actionType domain.ActionType) (domain.Tier, error) {
	if !actionType.Valid() {
		return "", fmt.Errorf("%w: action type %q", domain.ErrInvalidArgument, actionType)
	}
	s, err := r.Repo.GetAutonomySetting(ctx, tenantID, actionType)
	if err == nil {
		return domain.Tier(s.Tier), nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	if cfg != nil {
		if tier, ok := cfg.Autonomy.Defaults[string(actionType)]; ok {
			return domain.Tier(tier), nil
		}
	}
	return DefaultTier(actionType), nil
}

// SetTier upserts the setting. Unknown types or tiers are rejected.
func (r Resolver) SetTier(ctx context.Context, tenantID string, actionType domain.ActionType, tier domain.Tier) (domain.AutonomySetting, error) {
	if !actionType.Valid() {
		return domain.AutonomySetting{}, fmt.Errorf("%w: action type %q", domain.ErrInvalidArgument, actionType)
	}
	if !tier.Valid() {
		return domain.AutonomySetting{}, fmt.Errorf("%w: tier %q", domain.ErrInvalidArgument, tier)
	}
	s := domain.AutonomySetting{
		TenantID:   tenantID,
		ActionType: string(actionType),
		Tier:       string(tier),
		UpdatedAt:  r.now().UTC().Format(time.RFC3339),
	}
	if err := r.Repo.UpsertAutonomySetting(ctx, s); err != nil {
		return domain.AutonomySetting{}, err
	}
	return s, nil
}

// Settings returns the effective tier for every action type, merging stored
// rows over defaults.
func (r Resolver) Settings(ctx context.Context, cfg *config.Config, tenantID string) ([]domain.AutonomySetting, error) {
	stored, err := r.Repo.ListAutonomySettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]domain.AutonomySetting, len(stored))
	for _, s := range stored {
		byType[s.ActionType] = s
	}
	res := make([]domain.AutonomySetting, 0, len(domain.ActionTypes))
	for _, t := range domain.ActionTypes {
		if s, ok := byType[string(t)]; ok {
			res = append(res, s)
			continue
		}
		tier := DefaultTier(t)
		if cfg != nil {
			if override, ok := cfg.Autonomy.Defaults[string(t)]; ok {
				tier = domain.Tier(override)
			}
		}
		res = append(res, domain.AutonomySetting{
			TenantID:   tenantID,
			ActionType: string(t),
			Tier:       string(tier),
		})
	}
	return res, nil
}
