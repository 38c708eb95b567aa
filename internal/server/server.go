package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leadpilot/internal/batch"
	"leadpilot/internal/dispatch"
	"leadpilot/internal/domain"
	"leadpilot/internal/engine"
	"leadpilot/internal/lookup"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Batch    *batch.Runner
	Search   *lookup.Searcher
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"proposal already resolved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the LeadPilot API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("LeadPilot API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProposals(group, cfg.Engine)
	registerAutonomy(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerAnalyze(group, cfg.Engine)
	registerBatch(group, cfg.Batch)
	registerDiscovery(group, cfg.Search)
	registerContacts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var rl *oracle.RateLimitError
	if errors.As(err, &rl) {
		return newAPIError(http.StatusTooManyRequests, "rate_limited",
			"the AI service is busy, please retry shortly",
			map[string]any{"retry_after_ms": rl.RetryAfter.Milliseconds()})
	}
	var de *dispatch.Error
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadGateway, "dispatch_failed", err.Error(),
			map[string]any{"action_type": string(de.ActionType)})
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, batch.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadGateway:
		return "dispatch_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>LeadPilot API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/proposals",
		Summary:       "Create proposal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		Body     CreateProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		payloadJSON := ""
		if input.Body.Payload != nil {
			raw, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
			}
			payloadJSON = string(raw)
		}
		p, err := e.Create(ctx, engine.CreateOptions{
			TenantID:    input.TenantID,
			Type:        input.Body.Type,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Module:      stringOrEmpty(input.Body.Module),
			ContactID:   stringOrEmpty(input.Body.ContactID),
			ContactName: stringOrEmpty(input.Body.ContactName),
			PayloadJSON: payloadJSON,
			Source:      stringOrEmpty(input.Body.Source),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/proposals",
		Summary:     "List proposals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Status   string `query:"status" enum:"pending,approved,dismissed,auto_approved" required:"false"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body []ProposalResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProposals(ctx, repo.ProposalFilters{
			TenantID: input.TenantID,
			Status:   input.Status,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProposalResponse `json:"body"`
		}{Body: mapProposals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/proposals/{proposal_id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProposal(ctx, input.ProposalID)
		if err != nil || p.TenantID != input.TenantID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-proposal",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/proposals/{proposal_id}/approve",
		Summary:     "Approve a pending proposal and dispatch its action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		TenantID   string                 `path:"tenant_id"`
		ProposalID string                 `path:"proposal_id"`
		Body       ApproveProposalRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		var override *string
		if input.Body.Payload != nil {
			raw, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
			}
			s := string(raw)
			override = &s
		}
		p, err := e.Approve(ctx, input.TenantID, input.ProposalID, override, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-proposal",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/proposals/{proposal_id}/dismiss",
		Summary:     "Dismiss a pending proposal",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Dismiss(ctx, input.TenantID, input.ProposalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-approve-proposals",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/proposals/bulk-approve",
		Summary:     "Approve several pending proposals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string              `path:"tenant_id"`
		Body     BulkProposalRequest `json:"body"`
	}) (*struct {
		Body BulkResponse `json:"body"`
	}, error) {
		if len(input.Body.IDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ids are required", nil)
		}
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BulkApprove(ctx, input.TenantID, input.Body.IDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResponse `json:"body"`
		}{Body: BulkResponse{Resolved: mapProposals(res.Resolved), Failed: res.Failed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-dismiss-proposals",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/proposals/bulk-dismiss",
		Summary:     "Dismiss several pending proposals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string              `path:"tenant_id"`
		Body     BulkProposalRequest `json:"body"`
	}) (*struct {
		Body BulkResponse `json:"body"`
	}, error) {
		if len(input.Body.IDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ids are required", nil)
		}
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BulkDismiss(ctx, input.TenantID, input.Body.IDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResponse `json:"body"`
		}{Body: BulkResponse{Resolved: mapProposals(res.Resolved)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo-proposal",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/proposals/{proposal_id}/undo",
		Summary:     "Undo an auto-approved proposal",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Undo(ctx, input.TenantID, input.ProposalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})
}

func registerAutonomy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-autonomy-settings",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/autonomy",
		Summary:     "Autonomy tier per action type",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []domain.AutonomySetting `json:"body"`
	}, error) {
		cfg := e.TenantConfig(ctx, input.TenantID)
		items, err := e.Autonomy.Settings(ctx, cfg, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AutonomySetting `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-autonomy-setting",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/autonomy/{action_type}",
		Summary:     "Override the autonomy tier for one action type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID   string             `path:"tenant_id"`
		ActionType string             `path:"action_type"`
		Body       SetAutonomyRequest `json:"body"`
	}) (*struct {
		Body domain.AutonomySetting `json:"body"`
	}, error) {
		if input.Body.Tier == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tier is required", nil)
		}
		s, err := e.Autonomy.SetTier(ctx, input.TenantID, domain.ActionType(input.ActionType), domain.Tier(input.Body.Tier))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AutonomySetting `json:"body"`
		}{Body: s}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-proposal-stats",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/stats",
		Summary:     "Per-type resolution counters",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []domain.ProposalStat `json:"body"`
	}, error) {
		items, err := e.Repo.ListStats(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProposalStat `json:"body"`
		}{Body: items}, nil
	})
}

func registerAnalyze(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-tenant",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/analyze",
		Summary:     "Run proactive proposal generation",
		Errors: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body AnalysisResponse `json:"body"`
	}, error) {
		actorID, authErr := tenantActorFromContext(ctx, input.TenantID)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Analyze(ctx, input.TenantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnalysisResponse `json:"body"`
		}{Body: AnalysisResponse{Skipped: res.Skipped, Proposals: mapProposals(res.Proposals)}}, nil
	})
}

func registerBatch(api huma.API, runner *batch.Runner) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-enrichment-batch",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/enrichment/batches",
		Summary:       "Submit a batch contact enrichment job",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		Body     SubmitBatchRequest `json:"body"`
	}) (*struct {
		Body struct {
			JobID string `json:"job_id"`
		} `json:"body"`
	}, error) {
		id, err := runner.Submit(ctx, input.TenantID, input.Body.ContactIDs)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				JobID string `json:"job_id"`
			} `json:"body"`
		}{}
		out.Body.JobID = id
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "poll-enrichment-batch",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/enrichment/batches/{job_id}",
		Summary:     "Poll a batch enrichment job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		JobID    string `path:"job_id"`
	}) (*struct {
		Body domain.BatchJob `json:"body"`
	}, error) {
		job, err := runner.Poll(input.JobID)
		if err != nil || job.TenantID != input.TenantID {
			return nil, handleError(batch.ErrNotFound)
		}
		return &struct {
			Body domain.BatchJob `json:"body"`
		}{Body: job}, nil
	})
}

func registerDiscovery(api huma.API, searcher *lookup.Searcher) {
	huma.Register(api, huma.Operation{
		OperationID: "discovery-search",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/discovery/search",
		Summary:     "Business discovery search through the cascading lookup",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string        `path:"tenant_id"`
		Body     SearchRequest `json:"body"`
	}) (*struct {
		Body lookup.Result `json:"body"`
	}, error) {
		kind := input.Body.Kind
		if kind == "" {
			kind = "business"
		}
		res, err := searcher.Search(ctx, input.TenantID, kind, input.Body.Query, input.Body.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body lookup.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerContacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contact",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/contacts",
		Summary:       "Create contact",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string               `path:"tenant_id"`
		Body     CreateContactRequest `json:"body"`
	}) (*struct {
		Body domain.Contact `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		c, err := e.CreateContact(ctx, input.TenantID, domain.Contact{
			ID:        stringOrEmpty(input.Body.ID),
			Name:      input.Body.Name,
			Email:     stringOrEmpty(input.Body.Email),
			Phone:     stringOrEmpty(input.Body.Phone),
			Status:    stringOrEmpty(input.Body.Status),
			LeadScore: intOrZero(input.Body.LeadScore),
			Tags:      input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contact `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/contacts",
		Summary:     "List contacts",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Contact `json:"body"`
	}, error) {
		items, err := e.Repo.ListContacts(ctx, input.TenantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Contact `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		Limit      int    `query:"limit" required:"false"`
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.TenantID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.TenantID))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
