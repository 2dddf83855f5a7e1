package handler

import (
	"net/http"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/service"
)

const (
	defaultResultLimit = 50
	maxResultLimit     = 1000
)

// CheckHandler serves check definitions and their results
type CheckHandler struct {
	store    database.Store
	dispatch service.Dispatch
}

// NewCheckHandler creates a new check handler. Writes go through dispatch.
func NewCheckHandler(store database.Store, dispatch service.Dispatch) *CheckHandler {
	return &CheckHandler{store: store, dispatch: dispatch}
}

// List handles GET /api/v1/checks
func (h *CheckHandler) List(w http.ResponseWriter, r *http.Request) {
	var checks []*model.Check
	err := read(r.Context(), h.store, func(tx database.Tx) (err error) {
		checks, err = tx.Checks().List(r.Context())
		return err
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	if checks == nil {
		checks = []*model.Check{}
	}
	writeJSON(w, http.StatusOK, checks)
}

// Create handles POST /api/v1/checks. An existing check_id is replaced.
func (h *CheckHandler) Create(w http.ResponseWriter, r *http.Request) {
	var check model.Check
	if err := decodeBody(r, &check); err != nil {
		writeCommandError(w, r, err)
		return
	}

	if err := h.dispatch(r.Context(), service.AddCheck{Check: check}); err != nil {
		writeCommandError(w, r, err)
		return
	}
	h.writeCheck(w, r, check.CheckID, http.StatusCreated)
}

// Get handles GET /api/v1/checks/{id}
func (h *CheckHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	h.writeCheck(w, r, id, http.StatusOK)
}

// Delete handles DELETE /api/v1/checks/{id}
func (h *CheckHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	if err := h.dispatch(r.Context(), service.DeleteCheck{CheckID: id}); err != nil {
		writeCommandError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run handles POST /api/v1/checks/{id}/run. The check runs in the background.
func (h *CheckHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	if err := h.dispatch(r.Context(), service.ExecuteChecks{CheckIDs: []int64{id}}); err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"check_id": id, "status": model.CheckStatusProcessing})
}

// Results handles GET /api/v1/checks/{id}/results?limit=N, newest first
func (h *CheckHandler) Results(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	limit := parseQueryInt(r, "limit", defaultResultLimit)
	if limit <= 0 || limit > maxResultLimit {
		limit = maxResultLimit
	}

	var results []model.Result
	err = read(r.Context(), h.store, func(tx database.Tx) (err error) {
		if _, err = tx.Checks().Get(r.Context(), id); err != nil {
			return err
		}
		results, err = tx.Results().ListByCheck(r.Context(), id, limit)
		return err
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *CheckHandler) writeCheck(w http.ResponseWriter, r *http.Request, id int64, code int) {
	var check *model.Check
	err := read(r.Context(), h.store, func(tx database.Tx) (err error) {
		check, err = tx.Checks().Get(r.Context(), id)
		return err
	})
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, code, check)
}
