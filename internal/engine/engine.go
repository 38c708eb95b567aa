package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadpilot/internal/autonomy"
	"leadpilot/internal/config"
	"leadpilot/internal/dispatch"
	"leadpilot/internal/domain"
	"leadpilot/internal/events"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
	"leadpilot/internal/stats"
)

// Engine drives the proposal lifecycle: creation with autonomy check and
// dedup, approval, dismissal, bulk variants, undo, and proactive
// generation behind the cooldown gate.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Autonomy autonomy.Resolver
	Stats    stats.Tracker
	Dispatch dispatch.Dispatcher
	Oracle   oracle.Client
	Logger   *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, oc oracle.Client, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Autonomy: autonomy.Resolver{Repo: r},
		Stats:    stats.Tracker{Repo: r},
		Dispatch: dispatch.Dispatcher{DB: db, Repo: r, Logger: logger},
		Oracle:   oc,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TenantConfig returns the stored tenant config or the defaults.
func (e Engine) TenantConfig(ctx context.Context, tenantID string) *config.Config {
	cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
	if err != nil {
		return config.Default(tenantID)
	}
	return cfg
}

// CreateOptions are parameters for creating a proposal.
type CreateOptions struct {
	TenantID    string
	Type        string
	Title       string
	Description string
	Module      string
	ContactID   string
	ContactName string
	PayloadJSON string
	Source      string
	ActorID     string
}

// Create resolves the autonomy tier, deduplicates against pending
// proposals for the same (tenant, type, contact), and either auto-approves
// with an immediate dispatch or parks the proposal as pending.
//
// A dispatch failure after auto-approval surfaces to the caller but the
// proposal stays auto_approved; the failure is recorded as a
// proposal.dispatch_failed event.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Proposal, error) {
	actionType := domain.ActionType(opts.Type)
	if !actionType.Valid() {
		return domain.Proposal{}, fmt.Errorf("%w: action type %q", domain.ErrInvalidArgument, opts.Type)
	}
	if opts.Title == "" {
		return domain.Proposal{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	if opts.TenantID == "" {
		return domain.Proposal{}, fmt.Errorf("%w: tenant is required", domain.ErrInvalidArgument)
	}
	if opts.Source == "" {
		opts.Source = string(domain.SourceManual)
	}
	if opts.PayloadJSON == "" {
		opts.PayloadJSON = "{}"
	}
	if _, err := domain.DecodePayload(actionType, opts.PayloadJSON); err != nil {
		return domain.Proposal{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	cfg := e.TenantConfig(ctx, opts.TenantID)
	tier, err := e.Autonomy.Resolve(ctx, cfg, opts.TenantID, actionType)
	if err != nil {
		return domain.Proposal{}, err
	}

	if tier != domain.TierAutoApprove && opts.ContactID != "" {
		existing, err := e.Repo.FindPendingDuplicate(ctx, opts.TenantID, actionType, opts.ContactID)
		if err == nil {
			existing.Duplicate = true
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Proposal{}, err
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Proposal{
		ID:          uuid.New().String(),
		TenantID:    opts.TenantID,
		Type:        opts.Type,
		Status:      string(domain.StatusPending),
		Title:       opts.Title,
		Description: opts.Description,
		Module:      opts.Module,
		PayloadJSON: opts.PayloadJSON,
		Source:      opts.Source,
		CreatedAt:   now,
	}
	if opts.ContactID != "" {
		p.ContactID = &opts.ContactID
	}
	if opts.ContactName != "" {
		p.ContactName = &opts.ContactName
	}
	if tier == domain.TierAutoApprove {
		p.Status = string(domain.StatusAutoApproved)
		p.ResolvedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}
	if tier == domain.TierAutoApprove {
		if err := e.Stats.Record(ctx, tx, p.TenantID, actionType, domain.OutcomeAutoApproved); err != nil {
			return domain.Proposal{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "proposal.created", p.TenantID, "proposal", p.ID, opts.ActorID, events.EventPayload{
		"type":   p.Type,
		"status": p.Status,
		"source": p.Source,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}

	if tier == domain.TierAutoApprove {
		if dispErr := e.Dispatch.Execute(ctx, p); dispErr != nil {
			e.recordDispatchFailure(ctx, p, opts.ActorID, dispErr)
			return p, dispErr
		}
	}
	return p, nil
}

// recordDispatchFailure appends the compensating audit signal for an
// action marked resolved whose side effect did not land.
func (e Engine) recordDispatchFailure(ctx context.Context, p domain.Proposal, actorID string, dispErr error) {
	e.Logger.Warn("dispatch failed after committed transition",
		zap.String("proposal_id", p.ID),
		zap.String("type", p.Type),
		zap.Error(dispErr))
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "proposal.dispatch_failed", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
		"type":  p.Type,
		"error": dispErr.Error(),
	}); err != nil {
		return
	}
	_ = tx.Commit()
}

// Approve transitions a pending proposal to approved, then dispatches.
// The optional payload override replaces the stored payload before the
// dispatch. A concurrent resolution surfaces as repo.ErrConflict; a
// proposal owned by another tenant is invisible and reads as not found.
func (e Engine) Approve(ctx context.Context, tenantID, id string, payloadOverride *string, actorID string) (domain.Proposal, error) {
	now := e.now().UTC().Format(time.RFC3339)
	if payloadOverride != nil {
		current, err := e.Repo.GetProposal(ctx, id)
		if err != nil {
			return domain.Proposal{}, err
		}
		if current.TenantID != tenantID {
			return domain.Proposal{}, repo.ErrNotFound
		}
		if _, err := domain.DecodePayload(domain.ActionType(current.Type), *payloadOverride); err != nil {
			return domain.Proposal{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.TransitionProposal(ctx, tx, tenantID, id, domain.StatusPending, domain.StatusApproved, repo.TransitionPatch{
		ResolvedAt:  now,
		PayloadJSON: payloadOverride,
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Stats.Record(ctx, tx, p.TenantID, domain.ActionType(p.Type), domain.OutcomeApproved); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.approved", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
		"type": p.Type,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}

	if dispErr := e.Dispatch.Execute(ctx, p); dispErr != nil {
		e.recordDispatchFailure(ctx, p, actorID, dispErr)
		return p, dispErr
	}
	return p, nil
}

// Dismiss transitions a pending proposal to dismissed. No dispatch.
func (e Engine) Dismiss(ctx context.Context, tenantID, id, actorID string) (domain.Proposal, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.TransitionProposal(ctx, tx, tenantID, id, domain.StatusPending, domain.StatusDismissed, repo.TransitionPatch{ResolvedAt: now})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Stats.Record(ctx, tx, p.TenantID, domain.ActionType(p.Type), domain.OutcomeDismissed); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.dismissed", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
		"type": p.Type,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// BulkResult reports a bulk operation. Resolved holds the proposals that
// were actually transitioned; ids not pending at the time are skipped.
type BulkResult struct {
	Resolved []domain.Proposal `json:"resolved"`
	Failed   []string          `json:"failed,omitempty"`
}

// BulkApprove transitions every still-pending id in one store operation,
// then dispatches each sequentially. A dispatch failure is recorded and
// never aborts the remaining items or reverts the transition.
func (e Engine) BulkApprove(ctx context.Context, tenantID string, ids []string, actorID string) (BulkResult, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return BulkResult{}, err
	}
	defer tx.Rollback()
	resolved, err := e.Repo.TransitionProposals(ctx, tx, tenantID, ids, domain.StatusPending, domain.StatusApproved, now)
	if err != nil {
		return BulkResult{}, err
	}
	for _, p := range resolved {
		if err := e.Stats.Record(ctx, tx, p.TenantID, domain.ActionType(p.Type), domain.OutcomeApproved); err != nil {
			return BulkResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "proposal.approved", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
			"type": p.Type,
			"bulk": true,
		}); err != nil {
			return BulkResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Resolved: resolved}
	for _, p := range resolved {
		if dispErr := e.Dispatch.Execute(ctx, p); dispErr != nil {
			e.recordDispatchFailure(ctx, p, actorID, dispErr)
			res.Failed = append(res.Failed, p.ID)
		}
	}
	return res, nil
}

// BulkDismiss transitions every still-pending id to dismissed.
func (e Engine) BulkDismiss(ctx context.Context, tenantID string, ids []string, actorID string) (BulkResult, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return BulkResult{}, err
	}
	defer tx.Rollback()
	resolved, err := e.Repo.TransitionProposals(ctx, tx, tenantID, ids, domain.StatusPending, domain.StatusDismissed, now)
	if err != nil {
		return BulkResult{}, err
	}
	for _, p := range resolved {
		if err := e.Stats.Record(ctx, tx, p.TenantID, domain.ActionType(p.Type), domain.OutcomeDismissed); err != nil {
			return BulkResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "proposal.dismissed", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
			"type": p.Type,
			"bulk": true,
		}); err != nil {
			return BulkResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return BulkResult{}, err
	}
	return BulkResult{Resolved: resolved}, nil
}

// Undo reverses an auto-approved proposal. Only add_tag and
// update_lead_score have a compensating effect; every other type just
// flips to dismissed. Stat counters are never decremented.
func (e Engine) Undo(ctx context.Context, tenantID, id, actorID string) (domain.Proposal, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.TransitionProposal(ctx, tx, tenantID, id, domain.StatusAutoApproved, domain.StatusDismissed, repo.TransitionPatch{ResolvedAt: now})
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.undone", p.TenantID, "proposal", p.ID, actorID, events.EventPayload{
		"type": p.Type,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}

	if undoErr := e.Dispatch.Undo(ctx, p); undoErr != nil {
		e.recordDispatchFailure(ctx, p, actorID, undoErr)
		return p, undoErr
	}
	return p, nil
}

// CreateContact inserts a contact with sensible defaults and records the
// audit event.
func (e Engine) CreateContact(ctx context.Context, tenantID string, c domain.Contact) (domain.Contact, error) {
	if c.Name == "" {
		return domain.Contact{}, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.TenantID = tenantID
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = "new"
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := e.Repo.InsertContact(ctx, c); err != nil {
		return domain.Contact{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contact{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "contact.created", tenantID, "contact", c.ID, "", events.EventPayload{
		"name": c.Name,
	}); err != nil {
		return domain.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

// AnalysisResult is the outcome of a proactive generation run.
type AnalysisResult struct {
	Skipped   bool              `json:"skipped"`
	Proposals []domain.Proposal `json:"proposals,omitempty"`
}

// Analyze runs proactive generation for a tenant. Within the cooldown
// window it returns skipped with no oracle call. Otherwise the suppression
// list is computed first and handed to the oracle as a negative
// constraint, and each suggestion goes through the standard Create path.
func (e Engine) Analyze(ctx context.Context, tenantID, actorID string) (AnalysisResult, error) {
	cfg := e.TenantConfig(ctx, tenantID)
	now := e.now().UTC()
	lastRun, err := e.Repo.LastAnalysisRun(ctx, tenantID)
	if err != nil {
		return AnalysisResult{}, err
	}
	if !lastRun.IsZero() && now.Sub(lastRun) < cfg.Cooldown() {
		return AnalysisResult{Skipped: true}, nil
	}

	suppressed, err := e.Stats.SuppressedTypes(ctx, cfg, tenantID)
	if err != nil {
		return AnalysisResult{}, err
	}
	contacts, err := e.Repo.ListContacts(ctx, tenantID, 20)
	if err != nil {
		return AnalysisResult{}, err
	}
	actions, err := e.Oracle.ProposeActions(ctx, oracle.ProposeRequest{
		TenantID:     tenantID,
		Contacts:     contacts,
		ExcludeTypes: suppressed,
		MaxActions:   cfg.Proactive.MaxProposals,
	})
	if err != nil {
		return AnalysisResult{}, err
	}

	suppressedSet := make(map[domain.ActionType]bool, len(suppressed))
	for _, t := range suppressed {
		suppressedSet[t] = true
	}
	var created []domain.Proposal
	for _, a := range actions {
		if len(created) >= cfg.Proactive.MaxProposals {
			break
		}
		actionType := domain.ActionType(a.Type)
		if !actionType.Valid() || suppressedSet[actionType] {
			e.Logger.Debug("skipping oracle suggestion", zap.String("type", a.Type))
			continue
		}
		payloadJSON := "{}"
		if len(a.Payload) > 0 {
			payloadJSON, err = domain.EncodePayload(a.Payload)
			if err != nil {
				e.Logger.Warn("bad oracle payload", zap.String("type", a.Type), zap.Error(err))
				continue
			}
		}
		p, err := e.Create(ctx, CreateOptions{
			TenantID:    tenantID,
			Type:        a.Type,
			Title:       a.Title,
			Description: a.Description,
			Module:      a.Module,
			ContactID:   a.ContactID,
			ContactName: a.ContactName,
			PayloadJSON: payloadJSON,
			Source:      string(domain.SourceProactive),
			ActorID:     actorID,
		})
		if err != nil {
			e.Logger.Warn("proactive create failed", zap.String("type", a.Type), zap.Error(err))
			continue
		}
		created = append(created, p)
	}
	if err := e.Repo.SetLastAnalysisRun(ctx, tenantID, now); err != nil {
		return AnalysisResult{}, err
	}
	return AnalysisResult{Proposals: created}, nil
}
