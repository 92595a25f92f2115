package http

import (
	"net/http"

	"stockledger/internal/domain"
	"stockledger/internal/reorder"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (h *Handler) ReorderOverview(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ReorderOverview(r.Context(), chi.URLParam(r, "locationID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []reorder.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in reorder.RuleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := h.svc.CreateRule(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

type ruleThresholds struct {
	Minimum        decimal.Decimal `json:"minimum"`
	Buffer         decimal.Decimal `json:"buffer"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	MaxOrderAmount decimal.Decimal `json:"max_order_amount"`
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body ruleThresholds
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := h.svc.UpdateRule(r.Context(), reorder.RuleInput{
		LocationID:     chi.URLParam(r, "locationID"),
		ProductID:      productID,
		Minimum:        body.Minimum,
		Buffer:         body.Buffer,
		OrderAmount:    body.OrderAmount,
		MaxOrderAmount: body.MaxOrderAmount,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DeleteRule(r.Context(), chi.URLParam(r, "locationID"), productID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetOrdered(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := h.svc.ResetOrdered(r.Context(), chi.URLParam(r, "locationID"), productID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) Recommendation(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.svc.Recommendation(r.Context(), chi.URLParam(r, "locationID"), productID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) SubmitReorder(w http.ResponseWriter, r *http.Request) {
	var sub reorder.Submission
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.svc.SubmitReorder(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// SubmitBulkReorder answers 201 when an order was placed, even if some lines
// were turned down, and 422 when no line was accepted.
func (h *Handler) SubmitBulkReorder(w http.ResponseWriter, r *http.Request) {
	var req reorder.BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.SubmitBulkReorder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if res.Failed == nil {
		res.Failed = []reorder.Failure{}
	}
	if res.Order == nil {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type expandSupplierRequest struct {
	LocationID string  `json:"location_id"`
	SupplierID int64   `json:"supplier_id"`
	Staged     []int64 `json:"staged"`
}

func (h *Handler) ExpandSupplier(w http.ResponseWriter, r *http.Request) {
	var req expandSupplierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SupplierID <= 0 {
		writeError(w, http.StatusBadRequest, "supplier_id is required")
		return
	}
	lines, err := h.svc.ExpandSupplier(r.Context(), req.LocationID, req.SupplierID, req.Staged)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if lines == nil {
		lines = []reorder.Line{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.svc.Orders(r.Context(), chi.URLParam(r, "locationID"), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders, "limit": limit, "offset": offset})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Order(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
