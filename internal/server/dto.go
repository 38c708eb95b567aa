package server

import (
	"encoding/json"

	"leadpilot/internal/domain"
)

// Request payloads

type CreateProposalRequest struct {
	Type        string         `json:"type" enum:"send_message,update_lead_score,book_appointment,run_workflow,update_contact_status,add_tag,add_task"`
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	Module      *string        `json:"module,omitempty"`
	ContactID   *string        `json:"contact_id,omitempty"`
	ContactName *string        `json:"contact_name,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Source      *string        `json:"source,omitempty" enum:"manual,proactive"`
}

type ApproveProposalRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type BulkProposalRequest struct {
	IDs []string `json:"ids"`
}

type SetAutonomyRequest struct {
	Tier string `json:"tier" enum:"auto_approve,require_approval,require_approval_preview"`
}

type SubmitBatchRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

type SearchRequest struct {
	Kind  string `json:"kind,omitempty"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type CreateContactRequest struct {
	ID        *string  `json:"id,omitempty"`
	Name      string   `json:"name"`
	Email     *string  `json:"email,omitempty"`
	Phone     *string  `json:"phone,omitempty"`
	Status    *string  `json:"status,omitempty"`
	LeadScore *int     `json:"lead_score,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type DevLoginRequest struct {
	ActorID  string `json:"actor_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProposalResponse struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Module      string         `json:"module,omitempty"`
	ContactID   *string        `json:"contact_id,omitempty"`
	ContactName *string        `json:"contact_name,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Source      string         `json:"source"`
	CreatedAt   string         `json:"created_at"`
	ResolvedAt  *string        `json:"resolved_at,omitempty"`
	Duplicate   bool           `json:"duplicate,omitempty"`
}

func proposalResponse(p domain.Proposal) ProposalResponse {
	resp := ProposalResponse{
		ID:          p.ID,
		TenantID:    p.TenantID,
		Type:        p.Type,
		Status:      p.Status,
		Title:       p.Title,
		Description: p.Description,
		Module:      p.Module,
		ContactID:   p.ContactID,
		ContactName: p.ContactName,
		Source:      p.Source,
		CreatedAt:   p.CreatedAt,
		ResolvedAt:  p.ResolvedAt,
		Duplicate:   p.Duplicate,
	}
	if p.PayloadJSON != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(p.PayloadJSON), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func mapProposals(items []domain.Proposal) []ProposalResponse {
	out := make([]ProposalResponse, len(items))
	for i, p := range items {
		out[i] = proposalResponse(p)
	}
	return out
}

type BulkResponse struct {
	Resolved []ProposalResponse `json:"resolved"`
	Failed   []string           `json:"failed,omitempty"`
}

type AnalysisResponse struct {
	Skipped   bool               `json:"skipped"`
	Proposals []ProposalResponse `json:"proposals"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
