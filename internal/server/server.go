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

	"carepool/internal/engine"
	"carepool/internal/lifecycle"
	"carepool/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_stock"`
	Message string         `json:"message" example:"requested 20, 12 remaining on unit ibuprofen-200"`
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

// New returns an HTTP handler exposing the Carepool API.
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
	hcfg := huma.DefaultConfig("Carepool API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerFacilities(group, cfg.Engine)
	registerUnits(group, cfg.Engine)
	registerAllocations(group, cfg.Engine)
	registerReservations(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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

// handleError maps allocation errors onto the HTTP taxonomy. Version
// mismatches that escape the engine's retry loop surface as conflicts.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrInsufficientStock):
		return newAPIError(http.StatusConflict, "insufficient_stock", err.Error(), nil)
	case errors.Is(err, engine.ErrNoAvailability):
		return newAPIError(http.StatusConflict, "no_availability", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrVersionMismatch):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", err.Error(), nil)
	case errors.Is(err, repo.ErrInvalidState):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), nil)
	case errors.Is(err, engine.ErrBusy):
		return newAPIError(http.StatusServiceUnavailable, "busy", err.Error(), nil)
	case errors.Is(err, engine.ErrInternalInconsistency):
		return newAPIError(http.StatusInternalServerError, "internal_inconsistency", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
		return "invalid_state"
	case http.StatusServiceUnavailable:
		return "busy"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

// actorFromContext reads the requesting actor from the X-Actor-Id header.
// Identity is established upstream; an absent header means a local caller.
func actorFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestKey{}).(*http.Request); ok {
		if actor := strings.TrimSpace(r.Header.Get("X-Actor-Id")); actor != "" {
			return actor
		}
	}
	return "local-user"
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Carepool API Docs</title>
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

func registerFacilities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-facility",
		Method:        http.MethodPost,
		Path:          "/facilities",
		Summary:       "Create facility",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateFacilityRequest `json:"body"`
	}) (*struct {
		Body FacilityResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		f, err := e.InitFacility(ctx, input.Body.ID, input.Body.Name, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FacilityResponse `json:"body"`
		}{Body: facilityResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-facilities",
		Method:      http.MethodGet,
		Path:        "/facilities",
		Summary:     "List facilities",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []FacilityResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListFacilities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FacilityResponse `json:"body"`
		}{Body: mapFacilities(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-facility",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}",
		Summary:     "Get facility",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
	}) (*struct {
		Body FacilityResponse `json:"body"`
	}, error) {
		f, err := e.Repo.GetFacility(ctx, input.FacilityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FacilityResponse `json:"body"`
		}{Body: facilityResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-facility-config",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/config",
		Summary:     "Get facility config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetFacilityConfig(ctx, input.FacilityID)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unit",
		Method:        http.MethodPost,
		Path:          "/facilities/{facility_id}/units",
		Summary:       "Register unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string            `path:"facility_id"`
		Body       CreateUnitRequest `json:"body"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.UnitCreateOptions{
			ID:             stringOrEmpty(input.Body.ID),
			FacilityID:     input.FacilityID,
			Kind:           input.Body.Kind,
			Name:           input.Body.Name,
			Capacity:       intOrZero(input.Body.Capacity),
			Department:     stringOrEmpty(input.Body.Department),
			RoomType:       stringOrEmpty(input.Body.RoomType),
			Floor:          input.Body.Floor,
			Category:       stringOrEmpty(input.Body.Category),
			BloodType:      stringOrEmpty(input.Body.BloodType),
			ReorderLevel:   input.Body.ReorderLevel,
			MaxLevel:       input.Body.MaxLevel,
			Expiry:         stringOrEmpty(input.Body.Expiry),
			CollectionDate: stringOrEmpty(input.Body.CollectionDate),
			DoctorID:       stringOrEmpty(input.Body.DoctorID),
			WindowStart:    stringOrEmpty(input.Body.WindowStart),
			WindowEnd:      stringOrEmpty(input.Body.WindowEnd),
			ActorID:        actorFromContext(ctx),
		}
		u, err := e.RegisterUnit(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/units",
		Summary:     "List units",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		Kind       string `query:"kind"`
		State      string `query:"state"`
		Department string `query:"department"`
		RoomType   string `query:"room_type"`
		Category   string `query:"category"`
		BloodType  string `query:"blood_type"`
		DoctorID   string `query:"doctor_id"`
	}) (*struct {
		Body []UnitResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListUnits(ctx, repo.UnitFilters{
			FacilityID: input.FacilityID,
			Kind:       input.Kind,
			State:      input.State,
			Department: input.Department,
			RoomType:   input.RoomType,
			Category:   input.Category,
			BloodType:  input.BloodType,
			DoctorID:   input.DoctorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UnitResponse `json:"body"`
		}{Body: mapUnits(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/units/{id}",
		Summary:     "Get unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		u, err := e.Repo.GetUnit(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if u.FacilityID != input.FacilityID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unit not found in facility", nil)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "make-unit-ready",
		Method:      http.MethodPost,
		Path:        "/facilities/{facility_id}/units/{id}/ready",
		Summary:     "Return unit to circulation",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		u, err := e.MakeReady(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restock-unit",
		Method:      http.MethodPost,
		Path:        "/facilities/{facility_id}/units/{id}/restock",
		Summary:     "Restock countable unit",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string         `path:"facility_id"`
		ID         string         `path:"id"`
		Body       RestockRequest `json:"body"`
	}) (*struct {
		Body RestockResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, alerts, err := e.Restock(ctx, input.ID, input.Body.Quantity, stringOrEmpty(input.Body.Expiry), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RestockResponse `json:"body"`
		}{Body: RestockResponse{Unit: unitResponse(u), Alerts: mapAlerts(alerts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decommission-unit",
		Method:      http.MethodPost,
		Path:        "/facilities/{facility_id}/units/{id}/decommission",
		Summary:     "Decommission unit",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		u, err := e.Decommission(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})
}

func registerAllocations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "allocate",
		Method:        http.MethodPost,
		Path:          "/facilities/{facility_id}/allocations",
		Summary:       "Allocate a resource unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string          `path:"facility_id"`
		Body       AllocateRequest `json:"body"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.RequesterID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "requester_id is required", nil)
		}
		result, err := e.Allocate(ctx, engine.AllocateOptions{
			FacilityID:  input.FacilityID,
			Kind:        input.Body.Kind,
			UnitID:      stringOrEmpty(input.Body.UnitID),
			Department:  stringOrEmpty(input.Body.Department),
			RoomType:    stringOrEmpty(input.Body.RoomType),
			Category:    stringOrEmpty(input.Body.Category),
			BloodType:   stringOrEmpty(input.Body.BloodType),
			DoctorID:    stringOrEmpty(input.Body.DoctorID),
			RequesterID: input.Body.RequesterID,
			Quantity:    intOrZero(input.Body.Quantity),
			WindowStart: stringOrEmpty(input.Body.WindowStart),
			WindowEnd:   stringOrEmpty(input.Body.WindowEnd),
			Hold:        input.Body.Hold,
			Note:        stringOrEmpty(input.Body.Note),
			ActorID:     actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: AllocationResponse{
			Reservation: reservationResponse(result.Reservation),
			Unit:        unitResponse(result.Unit),
			Alerts:      mapAlerts(result.Alerts),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-expired",
		Method:      http.MethodPost,
		Path:        "/facilities/{facility_id}/allocations/sweep",
		Summary:     "Expire stale pending reservations",
		Errors: []int{
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		expired, err := e.SweepExpired(ctx, input.FacilityID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Expired: mapReservations(expired), Count: len(expired)}}, nil
	})
}

func registerReservations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reservations",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/reservations",
		Summary:     "List reservations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FacilityID  string `path:"facility_id"`
		UnitID      string `query:"unit_id"`
		RequesterID string `query:"requester_id"`
		Status      string `query:"status"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ReservationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListReservations(ctx, repo.ReservationFilters{
			FacilityID:  input.FacilityID,
			UnitID:      input.UnitID,
			RequesterID: input.RequesterID,
			Status:      input.Status,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReservationResponse `json:"body"`
		}{Body: mapReservations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reservation",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/reservations/{id}",
		Summary:     "Get reservation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body ReservationResponse `json:"body"`
	}, error) {
		res, err := e.Repo.GetReservation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReservationResponse `json:"body"`
		}{Body: reservationResponse(res)}, nil
	})

	type reservationAction func(ctx context.Context, reservationID, actorID string) (engine.AllocationResult, error)
	register := func(opID, pathSuffix, summary string, action reservationAction) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/facilities/{facility_id}/reservations/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
				http.StatusServiceUnavailable,
				http.StatusInternalServerError,
			},
		}, func(ctx context.Context, input *struct {
			FacilityID string `path:"facility_id"`
			ID         string `path:"id"`
		}) (*struct {
			Body AllocationResponse `json:"body"`
		}, error) {
			result, err := action(ctx, input.ID, actorFromContext(ctx))
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body AllocationResponse `json:"body"`
			}{Body: AllocationResponse{
				Reservation: reservationResponse(result.Reservation),
				Unit:        unitResponse(result.Unit),
				Alerts:      mapAlerts(result.Alerts),
			}}, nil
		})
	}

	register("confirm-reservation", "confirm", "Confirm pending appointment", e.Confirm)
	register("reject-reservation", "reject", "Reject pending appointment", e.Reject)
	register("admit-reservation", "admit", "Admit into held room", e.Admit)
	register("release-reservation", "release", "Release reservation", e.Release)
	register("cancel-reservation", "cancel", "Cancel reservation", e.Cancel)
	register("complete-reservation", "complete", "Complete appointment", e.Complete)
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/alerts",
		Summary:     "Current threshold alerts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		Kind       string `query:"kind"`
	}) (*struct {
		Body []AlertResponse `json:"body"`
	}, error) {
		alerts, err := e.QueryAlerts(ctx, input.FacilityID, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AlertResponse `json:"body"`
		}{Body: mapAlerts(alerts)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/facilities/{facility_id}/events",
		Summary:     "Audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FacilityID string `path:"facility_id"`
		Limit      int    `query:"limit" default:"50"`
		After      int64  `query:"after"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if input.After > 0 {
			evts, err := e.Repo.EventsAfter(ctx, input.Limit, input.After, input.FacilityID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body []EventResponse `json:"body"`
			}{Body: mapEvents(evts)}, nil
		}
		evts, err := e.Repo.LatestEvents(ctx, input.Limit, input.FacilityID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(evts)}, nil
	})
}
