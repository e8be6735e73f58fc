package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"reqboard/internal/domain"
	"reqboard/internal/engine"
	"reqboard/internal/engine/auth"
	"reqboard/internal/lifecycle"
	"reqboard/internal/obs"
	"reqboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine       engine.Engine
	BasePath     string
	Logger       *slog.Logger
	Metrics      *obs.Metrics
	RateLimit    RateLimit
	MaxBodyBytes int64
}

// apiError is the failure envelope shared by every endpoint.
type apiError struct {
	status  int
	Success bool           `json:"success"`
	Code    string         `json:"error" example:"NOT_ADJACENT"`
	Message string         `json:"message" example:"status changes must move one column at a time"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the request board API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(rateLimit(cfg.RateLimit))
	router.Use(maxBodyBytes(cfg.MaxBodyBytes))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument)
	}
	router.Use(newAuthMiddleware(basePath, cfg.Engine, logger))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}

	hcfg := huma.DefaultConfig("Request Board API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerBoard(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Code: code, Message: message, Details: details}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	if errors.Is(err, lifecycle.ErrPermissionDenied) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, string(te.Reason), err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	switch {
	case errors.Is(err, lifecycle.ErrNoInitialStatus):
		return newAPIError(http.StatusConflict, "no_initial_status", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
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
	open := map[string]bool{
		path.Join(basePath, "health"):     true,
		path.Join(basePath, "auth/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
    <title>Request Board API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
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

func registerAuth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for an access token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		user, token, err := e.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Success: true, Data: LoginData{AccessToken: token, User: authUserResponse(user)}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		user, err := e.Repo.GetUser(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{Success: true, Data: user}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/request-status",
		Summary:     "List request statuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListStatuses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusListResponse `json:"body"`
		}{Body: StatusListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-request-types",
		Method:      http.MethodGet,
		Path:        "/request-types",
		Summary:     "List request types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RequestTypeListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRequestTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestTypeListResponse `json:"body"`
		}{Body: RequestTypeListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-priorities",
		Method:      http.MethodGet,
		Path:        "/request-priorities",
		Summary:     "List request priorities",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PriorityListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPriorities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PriorityListResponse `json:"body"`
		}{Body: PriorityListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserListResponse `json:"body"`
		}{Body: UserListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})
}

type requestPath struct {
	ID string `path:"id"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests, including soft deleted ones",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RequestListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRequests(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestListResponse `json:"body"`
		}{Body: RequestListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body RequestDataResponse `json:"body"`
	}, error) {
		req, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestDataResponse `json:"body"`
		}{Body: RequestDataResponse{Success: true, Data: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Open a request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body domain.NewRequest `json:"body"`
	}) (*struct {
		Body RequestDataResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.CreateRequest(ctx, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestDataResponse `json:"body"`
		}{Body: RequestDataResponse{Success: true, Data: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-request",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}",
		Summary:     "Edit a request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body domain.RequestPatch `json:"body"`
	}) (*struct {
		Body RequestItemResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.UpdateRequest(ctx, actor, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestItemResponse `json:"body"`
		}{Body: RequestItemResponse{Success: true, Item: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-request",
		Method:      http.MethodDelete,
		Path:        "/requests/{id}",
		Summary:     "Soft delete a request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRequest(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuccessResponse `json:"body"`
		}{Body: SuccessResponse{Success: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-request-assignments",
		Method:      http.MethodGet,
		Path:        "/request-assignments",
		Summary:     "Assignment history of a request",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RequestID string `query:"requestId" required:"true" minLength:"1"`
	}) (*struct {
		Body AssignmentListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAssignments(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentListResponse `json:"body"`
		}{Body: AssignmentListResponse{Success: true, Data: nonNilSlice(items)}}, nil
	})
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-request",
		Method:      http.MethodPost,
		Path:        "/board/{id}/assign",
		Summary:     "Assign a request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body AssignmentDataResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Assign(ctx, actor, input.ID, input.Body.AssignedTo, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentDataResponse `json:"body"`
		}{Body: AssignmentDataResponse{Success: true, Data: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-request-status",
		Method:      http.MethodPost,
		Path:        "/board/{id}/status",
		Summary:     "Move a request to an adjacent status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body RequestDataResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.ChangeStatus(ctx, actor, input.ID, input.Body.ToStatusID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestDataResponse `json:"body"`
		}{Body: RequestDataResponse{Success: true, Data: req}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-request-events",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/events",
		Summary:     "Audit trail of a request",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		items, err := e.Events.List(ctx, "request", input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Success: true, Items: nonNilSlice(items)}}, nil
	})
}
