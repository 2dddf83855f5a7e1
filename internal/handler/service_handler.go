package handler

import (
	"context"
	"net/http"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/service"
)

// ServiceHandler serves services with their aggregated status
type ServiceHandler struct {
	store    database.Store
	dispatch service.Dispatch
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(store database.Store, dispatch service.Dispatch) *ServiceHandler {
	return &ServiceHandler{store: store, dispatch: dispatch}
}

// ServiceResponse is a service plus its computed status
type ServiceResponse struct {
	model.Service
	Status model.ServiceStatus    `json:"status"`
	Checks []ServiceCheckResponse `json:"checks,omitempty"`
}

// ServiceCheckResponse summarises one check of a service
type ServiceCheckResponse struct {
	CheckID      int64              `json:"check_id"`
	Name         string             `json:"name"`
	CheckType    model.CheckType    `json:"check_type"`
	Disabled     bool               `json:"disabled"`
	LatestStatus model.ResultStatus `json:"latest_status,omitempty"`
}

// List handles GET /api/v1/services
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	var out []ServiceResponse
	err := read(r.Context(), h.store, func(tx database.Tx) error {
		services, err := tx.Services().List(r.Context())
		if err != nil {
			return err
		}
		out = make([]ServiceResponse, 0, len(services))
		for _, s := range services {
			resp, err := describeService(r.Context(), tx, s, false)
			if err != nil {
				return err
			}
			out = append(out, resp)
		}
		return nil
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Create handles POST /api/v1/services
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var svc model.Service
	if err := decodeBody(r, &svc); err != nil {
		writeCommandError(w, r, err)
		return
	}
	if err := h.dispatch(r.Context(), service.AddService{Service: svc}); err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// Get handles GET /api/v1/services/{id}
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}

	var out ServiceResponse
	err = read(r.Context(), h.store, func(tx database.Tx) error {
		svc, err := tx.Services().Get(r.Context(), id)
		if err != nil {
			return err
		}
		out, err = describeService(r.Context(), tx, svc, true)
		return err
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func describeService(ctx context.Context, tx database.Tx, svc *model.Service, withChecks bool) (ServiceResponse, error) {
	checks, err := tx.Checks().ListByService(ctx, svc.ServiceID)
	if err != nil {
		return ServiceResponse{}, err
	}
	ids := make([]int64, 0, len(checks))
	for _, c := range checks {
		ids = append(ids, c.CheckID)
	}
	latest, err := tx.Results().LatestStatuses(ctx, ids)
	if err != nil {
		return ServiceResponse{}, err
	}

	resp := ServiceResponse{Service: *svc, Status: model.AggregateLatest(latest)}

	if withChecks {
		for _, c := range checks {
			resp.Checks = append(resp.Checks, ServiceCheckResponse{
				CheckID:      c.CheckID,
				Name:         c.Name,
				CheckType:    c.CheckType,
				Disabled:     c.Disabled,
				LatestStatus: latest[c.CheckID],
			})
		}
	}
	return resp, nil
}
