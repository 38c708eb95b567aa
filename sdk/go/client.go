package leadpilotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal LeadPilot HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Proposal represents the API proposal model.
type Proposal struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	ContactID   *string        `json:"contact_id,omitempty"`
	ContactName *string        `json:"contact_name,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Source      string         `json:"source"`
	CreatedAt   string         `json:"created_at"`
	ResolvedAt  *string        `json:"resolved_at,omitempty"`
	Duplicate   bool           `json:"duplicate,omitempty"`
}

// AutonomySetting is one (action type, tier) pair.
type AutonomySetting struct {
	TenantID   string `json:"tenant_id"`
	ActionType string `json:"action_type"`
	Tier       string `json:"tier"`
}

// ProposalStat carries per-type resolution counters.
type ProposalStat struct {
	TenantID          string `json:"tenant_id"`
	ActionType        string `json:"action_type"`
	ApprovedCount     int    `json:"approved_count"`
	DismissedCount    int    `json:"dismissed_count"`
	AutoApprovedCount int    `json:"auto_approved_count"`
}

// BatchJob is a pollable enrichment job snapshot.
type BatchJob struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Results   []struct {
		ItemID string `json:"item_id"`
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	} `json:"results"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// AnalysisResult is the outcome of a proactive generation call.
type AnalysisResult struct {
	Skipped   bool       `json:"skipped"`
	Proposals []Proposal `json:"proposals"`
}

// BulkResult reports a bulk approve/dismiss.
type BulkResult struct {
	Resolved []Proposal `json:"resolved"`
	Failed   []string   `json:"failed,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProposal creates a proposal; it may come back auto_approved.
func (c *Client) CreateProposal(ctx context.Context, actionType, title string, contactID string, payload map[string]any) (Proposal, error) {
	body := map[string]any{
		"type":    actionType,
		"title":   title,
		"payload": payload,
	}
	if contactID != "" {
		body["contact_id"] = contactID
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, c.tenantPath("proposals"), body, &resp)
	return resp, err
}

// ListProposals returns proposals newest first, optionally by status.
func (c *Client) ListProposals(ctx context.Context, status string) ([]Proposal, error) {
	endpoint := c.tenantPath("proposals")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve approves a pending proposal, optionally replacing its payload.
func (c *Client) Approve(ctx context.Context, id string, payload map[string]any) (Proposal, error) {
	var body any
	if payload != nil {
		body = map[string]any{"payload": payload}
	} else {
		body = map[string]any{}
	}
	var resp Proposal
	endpoint := c.tenantPath(fmt.Sprintf("proposals/%s/approve", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Dismiss dismisses a pending proposal.
func (c *Client) Dismiss(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	endpoint := c.tenantPath(fmt.Sprintf("proposals/%s/dismiss", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// Undo reverses an auto-approved proposal.
func (c *Client) Undo(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	endpoint := c.tenantPath(fmt.Sprintf("proposals/%s/undo", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// BulkApprove approves several pending proposals.
func (c *Client) BulkApprove(ctx context.Context, ids []string) (BulkResult, error) {
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, c.tenantPath("proposals/bulk-approve"), map[string]any{"ids": ids}, &resp)
	return resp, err
}

// BulkDismiss dismisses several pending proposals.
func (c *Client) BulkDismiss(ctx context.Context, ids []string) (BulkResult, error) {
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, c.tenantPath("proposals/bulk-dismiss"), map[string]any{"ids": ids}, &resp)
	return resp, err
}

// AutonomySettings returns the effective tier per action type.
func (c *Client) AutonomySettings(ctx context.Context) ([]AutonomySetting, error) {
	var resp []AutonomySetting
	err := c.do(ctx, http.MethodGet, c.tenantPath("autonomy"), nil, &resp)
	return resp, err
}

// SetAutonomy overrides the tier for one action type.
func (c *Client) SetAutonomy(ctx context.Context, actionType, tier string) (AutonomySetting, error) {
	var resp AutonomySetting
	endpoint := c.tenantPath(fmt.Sprintf("autonomy/%s", url.PathEscape(actionType)))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"tier": tier}, &resp)
	return resp, err
}

// Stats returns per-type resolution counters.
func (c *Client) Stats(ctx context.Context) ([]ProposalStat, error) {
	var resp []ProposalStat
	err := c.do(ctx, http.MethodGet, c.tenantPath("stats"), nil, &resp)
	return resp, err
}

// Analyze triggers proactive generation; Skipped means cooldown.
func (c *Client) Analyze(ctx context.Context) (AnalysisResult, error) {
	var resp AnalysisResult
	err := c.do(ctx, http.MethodPost, c.tenantPath("analyze"), map[string]any{}, &resp)
	return resp, err
}

// SubmitBatch submits a batch enrichment job and returns its id.
func (c *Client) SubmitBatch(ctx context.Context, contactIDs []string) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	err := c.do(ctx, http.MethodPost, c.tenantPath("enrichment/batches"), map[string]any{"contact_ids": contactIDs}, &resp)
	return resp.JobID, err
}

// PollBatch returns a snapshot of a batch job.
func (c *Client) PollBatch(ctx context.Context, jobID string) (BatchJob, error) {
	var resp BatchJob
	endpoint := c.tenantPath(fmt.Sprintf("enrichment/batches/%s", url.PathEscape(jobID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	tenant := url.PathEscape(c.TenantID)
	return fmt.Sprintf("v0/tenants/%s/%s", tenant, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
