package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
)

type inventoryAdjustRequest struct {
	ProductID       string          `json:"product_id"`
	Location        domain.Location `json:"location"`
	Delta           int             `json:"delta"`
	CreateIfMissing bool            `json:"create_if_missing"`
}

type inventorySetRequest struct {
	ProductID string          `json:"product_id"`
	Location  domain.Location `json:"location"`
	Quantity  int             `json:"quantity"`
	MinStock  int             `json:"min_stock"`
}

type variantAdjustRequest struct {
	ProductID   string          `json:"product_id"`
	Location    domain.Location `json:"location"`
	VariantType string          `json:"variant_type"`
	Name        string          `json:"name"`
	Delta       int             `json:"delta"`
}

// locationFromQuery reads branch_id or warehouse_id. Both or neither yield
// an invalid location that the service rejects.
func locationFromQuery(r *http.Request) domain.Location {
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	warehouseID := strings.TrimSpace(r.URL.Query().Get("warehouse_id"))
	switch {
	case branchID != "" && warehouseID == "":
		return domain.BranchLocation(branchID)
	case warehouseID != "" && branchID == "":
		return domain.WarehouseLocation(warehouseID)
	default:
		return domain.Location{}
	}
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.CreateCart(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": c, "total": c.Total()})
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.GetCart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c, "total": c.Total()})
}

func (a *API) handleDiscardCart(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DiscardCart(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddCartLine(w http.ResponseWriter, r *http.Request) {
	var req service.AddCartLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := a.service.AddCartLine(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": c, "total": c.Total()})
}

func (a *API) handleUpdateCartLine(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateCartLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := a.service.UpdateCartLine(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c, "total": c.Total()})
}

func (a *API) handleRemoveCartLine(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.RemoveCartLine(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c, "total": c.Total()})
}

func (a *API) handleSalesInvoice(w http.ResponseWriter, r *http.Request) {
	var req service.SalesInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CreateSalesInvoice(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handlePurchaseInvoice(w http.ResponseWriter, r *http.Request) {
	var req service.PurchaseInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CreatePurchaseInvoice(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	html, err := a.service.RenderReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

func (a *API) handleListInventory(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.ListInventory(r.Context(), locationFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": records})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.LowStock(r.Context(), locationFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": records})
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req inventoryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.AdjustInventory(r.Context(), req.ProductID, req.Location, req.Delta, req.CreateIfMissing)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": record})
}

func (a *API) handleSetInventory(w http.ResponseWriter, r *http.Request) {
	var req inventorySetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.SetInventory(r.Context(), req.ProductID, req.Location, req.Quantity, req.MinStock)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": record})
}

func (a *API) handleListVariants(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}
	variants, err := a.service.ListVariants(r.Context(), productID, locationFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": variants})
}

func (a *API) handleUpsertVariant(w http.ResponseWriter, r *http.Request) {
	var req domain.VariantRecord
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := a.service.UpsertVariant(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant": variant})
}

func (a *API) handleAdjustVariant(w http.ResponseWriter, r *http.Request) {
	var req variantAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := a.service.AdjustVariant(r.Context(), req.ProductID, req.Location, req.VariantType, req.Name, req.Delta)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant": variant})
}
