package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/service"
)

type prepareItemRequest struct {
	GroupKey string `json:"group_key"`
	Prepared bool   `json:"prepared"`
}

type editItemsRequest struct {
	Items []service.OrderItemEdit `json:"items"`
}

func orderNumberParam(r *http.Request) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || n < 1 {
		return 0, errors.New("invalid order number")
	}
	return n, nil
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, s)
		}
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	orders, err := a.service.ListOrders(r.Context(), statuses, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	a.orderAction(w, r, a.service.GetOrder)
}

func (a *API) handleStartPreparation(w http.ResponseWriter, r *http.Request) {
	a.orderAction(w, r, a.service.StartPreparation)
}

func (a *API) handleCompletePreparation(w http.ResponseWriter, r *http.Request) {
	a.orderAction(w, r, a.service.CompletePreparation)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	a.orderAction(w, r, a.service.MarkCancelled)
}

func (a *API) handleIssue(w http.ResponseWriter, r *http.Request) {
	a.orderAction(w, r, a.service.MarkIssue)
}

func (a *API) orderAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, n int64) (service.OrderView, error)) {
	n, err := orderNumberParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := action(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": view})
}

func (a *API) handlePrepareItem(w http.ResponseWriter, r *http.Request) {
	n, err := orderNumberParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req prepareItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetItemPrepared(r.Context(), n, req.GroupKey, req.Prepared)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": view})
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	n, err := orderNumberParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var gate service.GateInput
	if err := decodeOptionalJSON(r, &gate); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Advance(r.Context(), n, gate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleEditItems(w http.ResponseWriter, r *http.Request) {
	n, err := orderNumberParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req editItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.EditItems(r.Context(), n, req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": view})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.RunSweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
