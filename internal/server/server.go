// Package server exposes the REST API: monitor and contact management,
// paging policies, incident listing and status updates, reading intake
// and the cron-key gated sweep endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"thermoline/internal/domain"
	"thermoline/internal/engine"
	"thermoline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"monitor not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Thermoline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Thermoline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMonitors(group, cfg.Engine)
	registerContacts(group, cfg.Engine)
	registerPolicies(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerReadings(group, cfg.Engine)
	registerSweeps(group, cfg.Engine, cfg.Auth)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var vErr engine.ValidationError
	if errors.As(err, &vErr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var sErr engine.StateError
	if errors.As(err, &sErr) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var doc []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			doc, _ = json.Marshal(api.OpenAPI())
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Thermoline API Docs</title>
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

func registerMonitors(api huma.API, e engine.Engine) {
	type monitorPath struct {
		MonitorID string `path:"monitor_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-monitor",
		Method:        http.MethodPost,
		Path:          "/monitors",
		Summary:       "Create thermal monitor",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body MonitorRequest
	}) (*struct {
		Body domain.ThermalMonitor
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		monitor, err := e.CreateMonitor(ctx, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ThermalMonitor
		}{Body: monitor}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-monitors",
		Method:      http.MethodGet,
		Path:        "/monitors",
		Summary:     "List thermal monitors",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"PENDING,ACTIVE,INACTIVE,FINISHED" required:"false"`
		Type   string `query:"monitor_type" enum:"ONE_OFF,SCHEDULED" required:"false"`
		First  int    `query:"first" required:"false"`
		Max    int    `query:"max" required:"false"`
	}) (*struct {
		Body []domain.ThermalMonitor
	}, error) {
		monitors, err := e.ListMonitors(ctx, repo.MonitorFilter{
			Status: domain.MonitorStatus(input.Status),
			Type:   domain.MonitorType(input.Type),
			First:  input.First,
			Max:    input.Max,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ThermalMonitor
		}{Body: monitors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-monitor",
		Method:      http.MethodGet,
		Path:        "/monitors/{monitor_id}",
		Summary:     "Get thermal monitor",
	}, func(ctx context.Context, input *monitorPath) (*struct {
		Body domain.ThermalMonitor
	}, error) {
		monitor, err := e.GetMonitor(ctx, input.MonitorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ThermalMonitor
		}{Body: monitor}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-monitor",
		Method:      http.MethodPut,
		Path:        "/monitors/{monitor_id}",
		Summary:     "Update thermal monitor",
	}, func(ctx context.Context, input *struct {
		MonitorID string `path:"monitor_id"`
		Body      MonitorRequest
	}) (*struct {
		Body domain.ThermalMonitor
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		monitor, err := e.UpdateMonitor(ctx, input.MonitorID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ThermalMonitor
		}{Body: monitor}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-monitor",
		Method:        http.MethodDelete,
		Path:          "/monitors/{monitor_id}",
		Summary:       "Delete thermal monitor (TEST environment only)",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *monitorPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteMonitor(ctx, input.MonitorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerContacts(api huma.API, e engine.Engine) {
	type contactPath struct {
		ContactID string `path:"contact_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-contact",
		Method:        http.MethodPost,
		Path:          "/contacts",
		Summary:       "Create paging policy contact",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body ContactRequest
	}) (*struct {
		Body domain.PagingPolicyContact
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		contact, err := e.CreateContact(ctx, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicyContact
		}{Body: contact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/contacts",
		Summary:     "List paging policy contacts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PagingPolicyContact
	}, error) {
		contacts, err := e.ListContacts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PagingPolicyContact
		}{Body: contacts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contact",
		Method:      http.MethodGet,
		Path:        "/contacts/{contact_id}",
		Summary:     "Get paging policy contact",
	}, func(ctx context.Context, input *contactPath) (*struct {
		Body domain.PagingPolicyContact
	}, error) {
		contact, err := e.GetContact(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicyContact
		}{Body: contact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contact",
		Method:      http.MethodPut,
		Path:        "/contacts/{contact_id}",
		Summary:     "Update paging policy contact",
	}, func(ctx context.Context, input *struct {
		ContactID string `path:"contact_id"`
		Body      ContactRequest
	}) (*struct {
		Body domain.PagingPolicyContact
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		contact, err := e.UpdateContact(ctx, input.ContactID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicyContact
		}{Body: contact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-contact",
		Method:        http.MethodDelete,
		Path:          "/contacts/{contact_id}",
		Summary:       "Delete contact and its paging policies",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *contactPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteContact(ctx, input.ContactID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPolicies(api huma.API, e engine.Engine) {
	type policyPath struct {
		MonitorID string `path:"monitor_id"`
		PolicyID  string `path:"policy_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-policy",
		Method:        http.MethodPost,
		Path:          "/monitors/{monitor_id}/policies",
		Summary:       "Add paging policy to monitor",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		MonitorID string `path:"monitor_id"`
		Body      PolicyRequest
	}) (*struct {
		Body domain.PagingPolicy
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		policy, err := e.CreatePolicy(ctx, input.MonitorID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicy
		}{Body: policy}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/monitors/{monitor_id}/policies",
		Summary:     "List monitor paging policies in escalation order",
	}, func(ctx context.Context, input *struct {
		MonitorID string `path:"monitor_id"`
	}) (*struct {
		Body []domain.PagingPolicy
	}, error) {
		policies, err := e.ListPolicies(ctx, input.MonitorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PagingPolicy
		}{Body: policies}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/monitors/{monitor_id}/policies/{policy_id}",
		Summary:     "Get paging policy",
	}, func(ctx context.Context, input *policyPath) (*struct {
		Body domain.PagingPolicy
	}, error) {
		policy, err := e.GetPolicy(ctx, input.MonitorID, input.PolicyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicy
		}{Body: policy}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-policy",
		Method:      http.MethodPut,
		Path:        "/monitors/{monitor_id}/policies/{policy_id}",
		Summary:     "Update paging policy",
	}, func(ctx context.Context, input *struct {
		MonitorID string `path:"monitor_id"`
		PolicyID  string `path:"policy_id"`
		Body      PolicyRequest
	}) (*struct {
		Body domain.PagingPolicy
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		policy, err := e.UpdatePolicy(ctx, input.MonitorID, input.PolicyID, input.Body.toInput(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PagingPolicy
		}{Body: policy}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-policy",
		Method:        http.MethodDelete,
		Path:          "/monitors/{monitor_id}/policies/{policy_id}",
		Summary:       "Delete paging policy",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *policyPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePolicy(ctx, input.MonitorID, input.PolicyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	type incidentPath struct {
		IncidentID string `path:"incident_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents",
		Summary:     "List incidents, newest first",
	}, func(ctx context.Context, input *struct {
		MonitorID     string `query:"monitor_id" required:"false"`
		ThermometerID string `query:"thermometer_id" required:"false"`
		Status        string `query:"status" enum:"TRIGGERED,ACKNOWLEDGED,RESOLVED" required:"false"`
		After         string `query:"triggered_after" format:"date-time" required:"false"`
		Before        string `query:"triggered_before" format:"date-time" required:"false"`
		First         int    `query:"first" required:"false"`
		Max           int    `query:"max" required:"false"`
	}) (*struct {
		Body []domain.Incident
	}, error) {
		incidents, err := e.ListIncidents(ctx, repo.IncidentFilter{
			MonitorID:     input.MonitorID,
			ThermometerID: input.ThermometerID,
			Status:        domain.IncidentStatus(input.Status),
			After:         input.After,
			Before:        input.Before,
			First:         input.First,
			Max:           input.Max,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Incident
		}{Body: incidents}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{incident_id}",
		Summary:     "Get incident",
	}, func(ctx context.Context, input *incidentPath) (*struct {
		Body domain.Incident
	}, error) {
		incident, err := e.GetIncident(ctx, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Incident
		}{Body: incident}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-incident-status",
		Method:      http.MethodPatch,
		Path:        "/incidents/{incident_id}",
		Summary:     "Acknowledge or resolve incident",
	}, func(ctx context.Context, input *struct {
		IncidentID string `path:"incident_id"`
		Body       IncidentStatusRequest
	}) (*struct {
		Body domain.Incident
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		incident, err := e.UpdateIncidentStatus(ctx, input.IncidentID, domain.IncidentStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Incident
		}{Body: incident}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-incident",
		Method:        http.MethodDelete,
		Path:          "/incidents/{incident_id}",
		Summary:       "Delete incident (TEST environment only)",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *incidentPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteIncident(ctx, input.IncidentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReadings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-reading",
		Method:        http.MethodPost,
		Path:          "/readings",
		Summary:       "Submit a temperature reading",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *struct {
		Body ReadingRequest
	}) (*struct{}, error) {
		if input.Body.ThermometerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "thermometerId is required", nil)
		}
		if input.Body.Timestamp <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "timestamp must be epoch milliseconds", nil)
		}
		err := e.HandleReading(ctx, engine.Reading{
			ThermometerID: input.Body.ThermometerID,
			Temperature:   input.Body.Temperature,
			Timestamp:     input.Body.Timestamp,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSweeps(api huma.API, e engine.Engine, auth AuthConfig) {
	type cronInput struct {
		CronKey string `header:"X-Cron-Key"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "sweep-monitor-statuses",
		Method:      http.MethodPost,
		Path:        "/sweeps/monitor-statuses",
		Summary:     "Resolve monitor lifecycle statuses",
	}, func(ctx context.Context, input *cronInput) (*struct {
		Body SweepResponse
	}, error) {
		if err := checkCronKey(auth, input.CronKey); err != nil {
			return nil, err
		}
		if err := e.ResolveMonitorStatuses(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse
		}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-lost-sensors",
		Method:      http.MethodPost,
		Path:        "/sweeps/lost-sensors",
		Summary:     "Open incidents for silent sensors",
	}, func(ctx context.Context, input *cronInput) (*struct {
		Body SweepResponse
	}, error) {
		if err := checkCronKey(auth, input.CronKey); err != nil {
			return nil, err
		}
		opened, err := e.CreateLostSensorIncidents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse
		}{Body: SweepResponse{Processed: opened}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-escalations",
		Method:      http.MethodPost,
		Path:        "/sweeps/escalations",
		Summary:     "Fire due escalation policies",
	}, func(ctx context.Context, input *cronInput) (*struct {
		Body SweepResponse
	}, error) {
		if err := checkCronKey(auth, input.CronKey); err != nil {
			return nil, err
		}
		fired, err := e.TriggerPolicies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse
		}{Body: SweepResponse{Processed: fired}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		AfterID int64 `query:"after_id" required:"false"`
		Limit   int   `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Event
	}, error) {
		events, err := e.Repo.EventsAfter(ctx, input.Limit, input.AfterID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event
		}{Body: events}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*struct {
		Body APIKeyResponse
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		rawKey := uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(rawKey),
			CreatedAt: now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			Key:       rawKey,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id" required:"false"`
	}) (*struct {
		Body []APIKeyResponse
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Delete API key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
