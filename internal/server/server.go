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

	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"suggestion_resolved"`
	Message string         `json:"message" example:"suggestion already resolved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Warboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Warboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSync(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerSuggestions(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerScans(group, cfg.Engine)
	registerCommand(group, cfg.Engine)
	registerTrackerWebhook(router, basePath, cfg.Engine)
	registerActions(router, basePath, cfg.Engine)
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
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		return newAPIError(http.StatusConflict, "suggestion_resolved", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown action"),
		strings.Contains(lowered, "coaching nudges"),
		strings.Contains(lowered, "applies only to"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_action", msg, nil)
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Warboard API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerSync(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Pull a full snapshot from the tracker and reconcile the mirror",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SyncResult `json:"body"`
	}, error) {
		res, err := e.Reconcile(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SyncResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	type listItemsInput struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
		Assignee  string `query:"assignee"`
		Archived  bool   `query:"archived"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List mirrored work items",
	}, func(ctx context.Context, input *listItemsInput) (*struct {
		Body ItemsResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListItems(ctx, store.ItemFilter{
			ProjectID:       input.ProjectID,
			Status:          domain.Status(strings.ToUpper(input.Status)),
			Assignee:        input.Assignee,
			IncludeArchived: input.Archived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemsResponse `json:"body"`
		}{Body: ItemsResponse{Items: items, Count: len(items)}}, nil
	})

	type itemPath struct {
		ItemID string `path:"item_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Fetch one mirrored work item",
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		item, err := e.Store.GetItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/archive",
		Summary:     "Archive an item on the board without touching the tracker",
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ArchiveItem(ctx, input.ItemID, "archived by "+actor, domain.SourceWarboard); err != nil {
			return nil, handleError(err)
		}
		item, err := e.Store.GetItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})
}

func registerSuggestions(api huma.API, e engine.Engine) {
	type listSuggestionsInput struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions",
		Summary:     "List suggestions",
	}, func(ctx context.Context, input *listSuggestionsInput) (*struct {
		Body SuggestionsResponse `json:"body"`
	}, error) {
		sgs, err := e.Store.ListSuggestions(ctx, domain.SuggestionStatus(input.Status), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionsResponse `json:"body"`
		}{Body: SuggestionsResponse{Suggestions: sgs, Count: len(sgs)}}, nil
	})

	type messageInput struct {
		Body MessageRequest `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "ingest-message",
		Method:      http.MethodPost,
		Path:        "/suggestions/ingest",
		Summary:     "Classify a free-text message into a suggestion",
	}, func(ctx context.Context, input *messageInput) (*struct {
		Body domain.Suggestion `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		source := input.Body.Source
		if source == "" {
			source = domain.SourceChat
		}
		sg, err := e.IngestMessage(ctx, engine.MessageInput{
			Source:  source,
			Channel: input.Body.Channel,
			Author:  input.Body.Author,
			Message: input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Suggestion `json:"body"`
		}{Body: sg}, nil
	})

	type resolveInput struct {
		SuggestionID string         `path:"suggestion_id"`
		Body         ResolveRequest `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "resolve-suggestion",
		Method:      http.MethodPost,
		Path:        "/suggestions/{suggestion_id}/resolve",
		Summary:     "Apply a human decision to a pending suggestion",
	}, func(ctx context.Context, input *resolveInput) (*struct {
		Body domain.Suggestion `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sg, err := e.ResolveSuggestion(ctx, input.SuggestionID,
			domain.ResolutionAction(input.Body.Action), input.Body.edits(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Suggestion `json:"body"`
		}{Body: sg}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	type auditInput struct {
		ItemID string `query:"item_id"`
		Limit  int    `query:"limit"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "audit-log",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Recent audit entries",
	}, func(ctx context.Context, input *auditInput) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		entries, err := e.Audit.Recent(ctx, input.ItemID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: AuditResponse{Entries: entries, Count: len(entries)}}, nil
	})
}

func registerScans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "scan-stalled",
		Method:      http.MethodGet,
		Path:        "/scans/stalled",
		Summary:     "Items stuck in WAITING or without updates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StalledResponse `json:"body"`
	}, error) {
		items, err := e.DetectStalled(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StalledResponse `json:"body"`
		}{Body: StalledResponse{Stalled: items, Count: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-billing",
		Method:      http.MethodGet,
		Path:        "/scans/billing",
		Summary:     "Billing gaps and budget warnings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BillingResponse `json:"body"`
	}, error) {
		flags, err := e.DetectBillingGaps(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BillingResponse `json:"body"`
		}{Body: BillingResponse{Flags: flags, Count: len(flags)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-coaching",
		Method:      http.MethodPost,
		Path:        "/scans/coaching",
		Summary:     "Detect coaching nudges and post them for approval",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CoachingResponse `json:"body"`
	}, error) {
		posted, err := e.PostNudges(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CoachingResponse `json:"body"`
		}{Body: CoachingResponse{Posted: posted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-followups",
		Method:      http.MethodPost,
		Path:        "/scans/followups",
		Summary:     "Post stalled items as follow-up suggestions for approval",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CoachingResponse `json:"body"`
	}, error) {
		posted, err := e.PostFollowUps(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CoachingResponse `json:"body"`
		}{Body: CoachingResponse{Posted: posted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-digest",
		Method:      http.MethodPost,
		Path:        "/scans/digest",
		Summary:     "Stage the daily digest for approval",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DigestResponse `json:"body"`
	}, error) {
		sg, err := e.PostDigest(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := DigestResponse{}
		if sg.ID != "" {
			resp.SuggestionID = sg.ID
			resp.Staged = true
		}
		return &struct {
			Body DigestResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerCommand(api huma.API, e engine.Engine) {
	type commandInput struct {
		Body CommandRequest `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "command",
		Method:      http.MethodPost,
		Path:        "/cmd",
		Summary:     "Run a natural-language board command",
	}, func(ctx context.Context, input *commandInput) (*struct {
		Body engine.CommandResult `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		res, err := e.Command(ctx, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CommandResult `json:"body"`
		}{Body: res}, nil
	})
}
