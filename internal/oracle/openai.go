package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"leadpilot/internal/domain"
)

const defaultRetryAfter = 2 * time.Second

// OpenAIClient drives the oracle through the OpenAI chat-completions API,
// always requesting a JSON object response.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("oracle api key required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

func (o *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", mapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("oracle returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func mapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfterHint(apiErr.Message)}
	}
	return fmt.Errorf("oracle call: %w", err)
}

var retryHintPattern = regexp.MustCompile(`try again in ([0-9.]+)\s*(ms|s|m)\b`)

// retryAfterHint extracts the provider's suggested delay from a rate limit
// message such as "Please try again in 1.2s". The API error type carries no
// response headers, so the message is the only place the hint survives.
func retryAfterHint(message string) time.Duration {
	m := retryHintPattern.FindStringSubmatch(message)
	if m == nil {
		return defaultRetryAfter
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return defaultRetryAfter
	}
	unit := time.Second
	switch m[2] {
	case "ms":
		unit = time.Millisecond
	case "m":
		unit = time.Minute
	}
	return time.Duration(v * float64(unit))
}

const proposeSystemPrompt = `You are a CRM advisor. Given a tenant's contacts, suggest concrete next actions.
Respond with a JSON object {"actions":[{"type","title","description","module","contact_id","contact_name","payload"}]}.
Valid types: send_message, update_lead_score, book_appointment, run_workflow, update_contact_status, add_tag, add_task.`

func (o *OpenAIClient) ProposeActions(ctx context.Context, req ProposeRequest) ([]ProposedAction, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Suggest at most %d actions.\n", req.MaxActions)
	if len(req.ExcludeTypes) > 0 {
		names := make([]string, len(req.ExcludeTypes))
		for i, t := range req.ExcludeTypes {
			names[i] = string(t)
		}
		fmt.Fprintf(&sb, "Never suggest these types, the tenant rejects them: %s.\n", strings.Join(names, ", "))
	}
	sb.WriteString("Contacts:\n")
	for _, c := range req.Contacts {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	content, err := o.complete(ctx, proposeSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	var out struct {
		Actions []ProposedAction `json:"actions"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("oracle response: %w", err)
	}
	return out.Actions, nil
}

const enrichSystemPrompt = `You are a CRM data-enrichment assistant. Given a contact, infer company, website and a short research note.
Respond with a JSON object {"company","website","notes"}. Use empty strings for anything you cannot infer.`

func (o *OpenAIClient) EnrichContact(ctx context.Context, contact domain.Contact) (Enrichment, error) {
	b, err := json.Marshal(contact)
	if err != nil {
		return Enrichment{}, err
	}
	content, err := o.complete(ctx, enrichSystemPrompt, string(b))
	if err != nil {
		return Enrichment{}, err
	}
	var e Enrichment
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return Enrichment{}, fmt.Errorf("oracle response: %w", err)
	}
	return e, nil
}

const discoverSystemPrompt = `You are a business-discovery assistant. Given a search query, list real matching businesses.
Respond with a JSON object {"summary","businesses":[{"name","website","phone","address","detail"}]}.
Only include businesses you are confident exist.`

func (o *OpenAIClient) DiscoverBusinesses(ctx context.Context, query string, limit int) (string, []Business, error) {
	content, err := o.complete(ctx, discoverSystemPrompt, fmt.Sprintf("Find up to %d businesses matching: %s", limit, query))
	if err != nil {
		return "", nil, err
	}
	var out struct {
		Summary    string     `json:"summary"`
		Businesses []Business `json:"businesses"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", nil, fmt.Errorf("oracle response: %w", err)
	}
	if len(out.Businesses) > limit {
		out.Businesses = out.Businesses[:limit]
	}
	return out.Summary, out.Businesses, nil
}
