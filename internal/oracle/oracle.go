package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/internal/domain"
)

// RateLimitError is the distinguished backpressure condition an oracle call
// may raise. RetryAfter is the provider's suggested wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("oracle rate limited, retry after %s", e.RetryAfter)
}

// ProposedAction is one structured suggestion returned by the oracle.
type ProposedAction struct {
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Module      string         `json:"module,omitempty"`
	ContactID   string         `json:"contact_id,omitempty"`
	ContactName string         `json:"contact_name,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Enrichment is the structured result of a contact enrichment call. Empty
// fields mean the oracle found nothing to add.
type Enrichment struct {
	Company string `json:"company,omitempty"`
	Website string `json:"website,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (e Enrichment) Empty() bool {
	return e.Company == "" && e.Website == "" && e.Notes == ""
}

// ProposeRequest asks the oracle for up to MaxActions suggestions for a
// tenant, never of the excluded types.
type ProposeRequest struct {
	TenantID     string
	Contacts     []domain.Contact
	ExcludeTypes []domain.ActionType
	MaxActions   int
}

// Business is one structured hit from a discovery search.
type Business struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Client is the AI oracle. Implementations return structured data or fail;
// they never retry internally.
type Client interface {
	ProposeActions(ctx context.Context, req ProposeRequest) ([]ProposedAction, error)
	EnrichContact(ctx context.Context, contact domain.Contact) (Enrichment, error)
	DiscoverBusinesses(ctx context.Context, query string, limit int) (string, []Business, error)
}

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("oracle not configured; set LEADPILOT_OPENAI_API_KEY")

// Disabled stands in when no API key is configured. Lifecycle operations
// that never reach the oracle still work; the rest fail fast.
type Disabled struct{}

func (Disabled) ProposeActions(context.Context, ProposeRequest) ([]ProposedAction, error) {
	return nil, ErrNotConfigured
}

func (Disabled) EnrichContact(context.Context, domain.Contact) (Enrichment, error) {
	return Enrichment{}, ErrNotConfigured
}

func (Disabled) DiscoverBusinesses(context.Context, string, int) (string, []Business, error) {
	return "", nil, ErrNotConfigured
}
