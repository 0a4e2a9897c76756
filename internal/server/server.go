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
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"intentgate/internal/domain"
	"intentgate/internal/engine"
	"intentgate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"contract_immutable"`
	Message string         `json:"message" example:"intent contract is immutable once validated"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"frozen\"}"`
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

// New returns an HTTP handler exposing the Intentgate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Intentgate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerIntents(group, cfg.Engine)
	registerLoops(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var incomplete engine.IncompleteContractError
	if errors.As(err, &incomplete) {
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_contract", err.Error(), map[string]any{"missing": incomplete.Missing})
	}
	var transition engine.InvalidTransitionError
	if errors.As(err, &transition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": transition.Entity,
			"from":   transition.From,
			"to":     transition.To,
		})
	}
	switch {
	case errors.Is(err, engine.ErrContractImmutable):
		return newAPIError(http.StatusConflict, "contract_immutable", err.Error(), nil)
	case errors.Is(err, engine.ErrNotValidated):
		return newAPIError(http.StatusConflict, "not_validated", err.Error(), nil)
	case errors.Is(err, engine.ErrIntentNotFrozen):
		return newAPIError(http.StatusConflict, "intent_not_frozen", err.Error(), nil)
	case errors.Is(err, engine.ErrLoopTerminated):
		return newAPIError(http.StatusConflict, "loop_terminated", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Intentgate API Docs</title>
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

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProject(ctx, input.Body.ID, input.Body.Name, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProjectResponse, 0, len(items))
		for _, p := range items {
			res = append(res, projectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, activeProject(ctx, input.ProjectID, e))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetProjectConfig(ctx, activeProject(ctx, input.ProjectID, e))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerIntents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-intent",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/intents",
		Summary:       "Create intent contract",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateIntentRequest `json:"body"`
	}) (*struct {
		Body IntentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ProductName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "product_name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.IntentCreateOptions{
			ProjectID:          activeProject(ctx, input.ProjectID, e),
			IntentType:         input.Body.IntentType,
			ProductName:        input.Body.ProductName,
			ProductDescription: input.Body.ProductDescription,
			BusinessGoal:       input.Body.BusinessGoal,
			TargetAudience:     input.Body.TargetAudience,
			SuccessCriteria:    input.Body.SuccessCriteria,
			Constraints:        input.Body.Constraints,
			RiskLevel:          input.Body.RiskLevel,
			MainFeatures:       input.Body.MainFeatures,
			ActorID:            actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.AdditionalContext != nil {
			opts.AdditionalContext = *input.Body.AdditionalContext
		}
		if input.Body.RepositoryURL != nil {
			opts.RepositoryURL = *input.Body.RepositoryURL
		}
		in, err := e.CreateIntent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IntentResponse `json:"body"`
		}{Body: intentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-intents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/intents",
		Summary:     "List intent contracts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedIntents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListIntents(ctx, repo.IntentFilters{
			ProjectID:       activeProject(ctx, input.ProjectID, e),
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedIntents{Items: []IntentResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, in := range items {
			resp.Items = append(resp.Items, intentResponse(in))
		}
		return &struct {
			Body paginatedIntents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-latest-intent",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/intent",
		Summary:     "Get the project's most recent intent contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body IntentResponse `json:"body"`
	}, error) {
		in, err := e.Repo.LatestProjectIntent(ctx, activeProject(ctx, input.ProjectID, e))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IntentResponse `json:"body"`
		}{Body: intentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intent",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/intents/{id}",
		Summary:     "Get intent contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body IntentResponse `json:"body"`
	}, error) {
		in, err := e.Repo.GetIntent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, in.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "intent not found in project", nil)
		}
		return &struct {
			Body IntentResponse `json:"body"`
		}{Body: intentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-intent",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/intents/{id}",
		Summary:     "Update a draft intent contract",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        string              `path:"id"`
		Body      UpdateIntentRequest `json:"body"`
	}) (*struct {
		Body IntentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.UpdateIntent(ctx, engine.IntentUpdateOptions{
			ID:                 input.ID,
			ProductName:        input.Body.ProductName,
			ProductDescription: input.Body.ProductDescription,
			BusinessGoal:       input.Body.BusinessGoal,
			TargetAudience:     input.Body.TargetAudience,
			SuccessCriteria:    input.Body.SuccessCriteria,
			Constraints:        input.Body.Constraints,
			RiskLevel:          input.Body.RiskLevel,
			MainFeatures:       input.Body.MainFeatures,
			AdditionalContext:  input.Body.AdditionalContext,
			RepositoryURL:      input.Body.RepositoryURL,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, in.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "intent not found in project", nil)
		}
		return &struct {
			Body IntentResponse `json:"body"`
		}{Body: intentResponse(in)}, nil
	})

	type intentTransition func(ctx context.Context, id, actorID string) (IntentResponse, error)
	registerIntentTransition := func(opID, suffix, summary string, apply intentTransition) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/intents/{id}/" + suffix,
			Summary:     summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			ID        string `path:"id"`
		}) (*struct {
			Body IntentResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			resp, err := apply(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			if !projectMatches(input.ProjectID, resp.ProjectID) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "intent not found in project", nil)
			}
			return &struct {
				Body IntentResponse `json:"body"`
			}{Body: resp}, nil
		})
	}
	registerIntentTransition("validate-intent", "validate", "Validate intent contract", func(ctx context.Context, id, actorID string) (IntentResponse, error) {
		in, err := e.ValidateIntent(ctx, id, actorID)
		return intentResponse(in), err
	})
	registerIntentTransition("freeze-intent", "freeze", "Freeze intent contract", func(ctx context.Context, id, actorID string) (IntentResponse, error) {
		in, err := e.FreezeIntent(ctx, id, actorID)
		return intentResponse(in), err
	})
	registerIntentTransition("complete-intent", "complete", "Complete intent contract", func(ctx context.Context, id, actorID string) (IntentResponse, error) {
		in, err := e.CompleteIntent(ctx, id, actorID)
		return intentResponse(in), err
	})
	registerIntentTransition("cancel-intent", "cancel", "Cancel intent contract", func(ctx context.Context, id, actorID string) (IntentResponse, error) {
		in, err := e.CancelIntent(ctx, id, actorID)
		return intentResponse(in), err
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-intent-action",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/intents/{id}/check-action",
		Summary:     "Check an action against a frozen intent contract",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		ID        string             `path:"id"`
		Body      CheckActionRequest `json:"body"`
	}) (*struct {
		Body ActionCheckResponse `json:"body"`
	}, error) {
		if input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		check, err := e.CheckIntentAction(ctx, input.ID, input.Body.Action, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionCheckResponse `json:"body"`
		}{Body: actionCheckResponse(check)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-intent",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/intents/{id}/verify",
		Summary:     "Verify a frozen contract against its stored hash",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body IntentVerificationResponse `json:"body"`
	}, error) {
		v, err := e.VerifyIntent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IntentVerificationResponse `json:"body"`
		}{Body: IntentVerificationResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-intent-violations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/intents/{id}/violations",
		Summary:     "List recorded violations for an intent",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedViolations `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursor, err := parseIDCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListViolations(ctx, input.ID, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedViolations{Items: []ViolationResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, v := range items {
			resp.Items = append(resp.Items, violationResponse(v))
		}
		return &struct {
			Body paginatedViolations `json:"body"`
		}{Body: resp}, nil
	})
}

func registerLoops(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-loop",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/loops",
		Summary:       "Create execution loop",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateLoopRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.IntentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "intent_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.LoopCreateOptions{
			ProjectID:                activeProject(ctx, input.ProjectID, e),
			IntentID:                 input.Body.IntentID,
			MaxTimeMinutes:           input.Body.MaxTimeMinutes,
			MaxActions:               input.Body.MaxActions,
			MaxCostUSD:               input.Body.MaxCostUSD,
			MaxIterationsBeforePause: input.Body.MaxIterationsBeforePause,
			ActorID:                  actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.CreateLoop(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loops",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops",
		Summary:     "List execution loops",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		IntentID  string `query:"intent_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedLoops `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListLoops(ctx, repo.LoopFilters{
			ProjectID:       activeProject(ctx, input.ProjectID, e),
			IntentID:        input.IntentID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedLoops{Items: []LoopResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, l := range items {
			resp.Items = append(resp.Items, loopResponse(l))
		}
		return &struct {
			Body paginatedLoops `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-loop",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops/{id}",
		Summary:     "Get execution loop",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		l, err := e.Repo.GetLoop(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, l.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "loop not found in project", nil)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-loop",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/start",
		Summary:     "Start execution loop",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.StartLoop(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-loop",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/pause",
		Summary:     "Pause execution loop",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		ID        string           `path:"id"`
		Body      PauseLoopRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actionRequired := ""
		if input.Body.ActionRequired != nil {
			actionRequired = *input.Body.ActionRequired
		}
		l, err := e.PauseLoop(ctx, input.ID, input.Body.Reason, input.Body.Message, input.Body.PausedBy, actionRequired, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-loop",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/resume",
		Summary:     "Resume paused execution loop",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      ResumeLoopRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.ResumeLoop(ctx, input.ID, input.Body.UserResponse, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-loop-action",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/loops/{id}/actions",
		Summary:       "Record an executed action",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        string              `path:"id"`
		Body      RecordActionRequest `json:"body"`
	}) (*struct {
		Body LoopActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActionType == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action_type is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.LoopActionOptions{
			LoopID:          input.ID,
			ActionType:      input.Body.ActionType,
			Description:     input.Body.Description,
			Success:         true,
			CostUSD:         input.Body.CostUSD,
			DurationSeconds: input.Body.DurationSeconds,
			ActorID:         actorID,
		}
		if input.Body.Success != nil {
			opts.Success = *input.Body.Success
		}
		if input.Body.AgentID != nil {
			opts.AgentID = *input.Body.AgentID
		}
		if input.Body.Result != nil {
			opts.Result = *input.Body.Result
		}
		if input.Body.Error != nil {
			opts.Error = *input.Body.Error
		}
		a, err := e.RecordAction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopActionResponse `json:"body"`
		}{Body: loopActionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-loop-iteration",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/iterations",
		Summary:     "Advance the loop's iteration counter",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.AdvanceIteration(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-loop-limits",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops/{id}/limits",
		Summary:     "Check loop ceilings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body LimitStatusResponse `json:"body"`
	}, error) {
		st, err := e.CheckLimits(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LimitStatusResponse `json:"body"`
		}{Body: LimitStatusResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-loop-action",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/check-action",
		Summary:     "Check an action against the loop's intent contract",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		ID        string             `path:"id"`
		Body      CheckActionRequest `json:"body"`
	}) (*struct {
		Body ActionCheckResponse `json:"body"`
	}, error) {
		if input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		check, err := e.CheckLoopAction(ctx, input.ID, input.Body.Action, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionCheckResponse `json:"body"`
		}{Body: actionCheckResponse(check)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-loop-progress",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/loops/{id}/progress",
		Summary:     "Update loop progress fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        string              `path:"id"`
		Body      LoopProgressRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UpdateLoopProgress(ctx, engine.LoopProgressOptions{
			LoopID:             input.ID,
			ProgressPercentage: input.Body.ProgressPercentage,
			CurrentPhase:       input.Body.CurrentPhase,
			NextAction:         input.Body.NextAction,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-loop",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/complete",
		Summary:     "Complete execution loop",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ID        string              `path:"id"`
		Body      CompleteLoopRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		artifacts := ""
		if input.Body.Artifacts != nil {
			data, err := json.Marshal(input.Body.Artifacts)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid artifacts", map[string]any{"error": err.Error()})
			}
			artifacts = string(data)
		}
		l, err := e.CompleteLoop(ctx, input.ID, input.Body.Result, artifacts, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-loop",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/loops/{id}/cancel",
		Summary:     "Cancel execution loop",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		ID        string        `path:"id"`
		Body      CancelRequest `json:"body"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CancelLoop(ctx, input.ID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loop-actions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops/{id}/actions",
		Summary:     "List the loop's action ledger",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedLoopActions `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursor, err := parseIDCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListLoopActions(ctx, input.ID, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedLoopActions{Items: []LoopActionResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, a := range items {
			resp.Items = append(resp.Items, loopActionResponse(a))
		}
		return &struct {
			Body paginatedLoopActions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loop-pauses",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/loops/{id}/pauses",
		Summary:     "List the loop's pause ledger",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedLoopPauses `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursor, err := parseIDCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListLoopPauses(ctx, input.ID, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedLoopPauses{Items: []LoopPauseResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, p := range items {
			resp.Items = append(resp.Items, loopPauseResponse(p))
		}
		return &struct {
			Body paginatedLoopPauses `json:"body"`
		}{Body: resp}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body struct {
			Workflow WorkflowResponse       `json:"workflow"`
			Steps    []WorkflowStepResponse `json:"steps"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkflowCreateOptions{
			ProjectID: activeProject(ctx, input.ProjectID, e),
			Name:      input.Body.Name,
			StepKinds: input.Body.Steps,
			ActorID:   actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		w, steps, err := e.CreateWorkflow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Workflow WorkflowResponse       `json:"workflow"`
				Steps    []WorkflowStepResponse `json:"steps"`
			} `json:"body"`
		}{}
		out.Body.Workflow = workflowResponse(w)
		out.Body.Steps = mapSteps(steps)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows",
		Summary:     "List workflows",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedWorkflows `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListWorkflows(ctx, repo.WorkflowFilters{
			ProjectID:       activeProject(ctx, input.ProjectID, e),
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkflows{Items: []WorkflowResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, w := range items {
			resp.Items = append(resp.Items, workflowResponse(w))
		}
		return &struct {
			Body paginatedWorkflows `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, w.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found in project", nil)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflow-steps",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows/{id}/steps",
		Summary:     "List workflow steps in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []WorkflowStepResponse `json:"body"`
	}, error) {
		steps, err := e.Repo.ListWorkflowSteps(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowStepResponse `json:"body"`
		}{Body: mapSteps(steps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-workflow-step",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows/{id}/next-step",
		Summary:     "Get the workflow's current actionable step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkflowStepResponse `json:"body"`
	}, error) {
		s, err := e.NextStep(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowStepResponse `json:"body"`
		}{Body: workflowStepResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-workflow",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/workflows/{id}/start",
		Summary:     "Start workflow",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.StartWorkflow(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-workflow",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/workflows/{id}/advance",
		Summary:     "Settle the current step and advance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		ID        string                 `path:"id"`
		Body      AdvanceWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowAdvanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		success := true
		if input.Body.Success != nil {
			success = *input.Body.Success
		}
		output := ""
		if input.Body.Output != nil {
			data, err := json.Marshal(input.Body.Output)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid output", map[string]any{"error": err.Error()})
			}
			output = string(data)
		}
		res, err := e.AdvanceWorkflow(ctx, input.ID, success, input.Body.Error, output, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := WorkflowAdvanceResponse{
			Workflow: workflowResponse(res.Workflow),
			Failed:   res.Failed,
			Done:     res.Done,
		}
		if res.Step != nil {
			s := workflowStepResponse(*res.Step)
			resp.Step = &s
		}
		return &struct {
			Body WorkflowAdvanceResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-workflow",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/workflows/{id}/rollback",
		Summary:     "Roll back workflow",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RollbackWorkflow(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workflows/{id}/status",
		Summary:     "Workflow progress summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkflowStatusResponse `json:"body"`
	}, error) {
		st, err := e.GetWorkflowStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowStatusResponse `json:"body"`
		}{Body: workflowStatusResponse(st)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,intent,loop,workflow"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorID, err := parseIDCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, activeProject(ctx, input.ProjectID, e), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Source:  principal.Source,
		}}, nil
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
		token, err := signDevToken(authCfg.JWTSecret, actor)
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func parseIDCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseInt(cursor, 10, 64)
}

func mapSteps(steps []domain.WorkflowStep) []WorkflowStepResponse {
	res := make([]WorkflowStepResponse, 0, len(steps))
	for _, s := range steps {
		res = append(res, workflowStepResponse(s))
	}
	return res
}

func activeProject(ctx context.Context, pathProjectID string, e engine.Engine) string {
	if pathProjectID != "" {
		return pathProjectID
	}
	fallback := ""
	if e.Config != nil {
		fallback = e.Config.Project.ID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Project-Id")); v != "" {
			return v
		}
	}
	return fallback
}

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}
