package http

import (
	"net/http"

	"stockledger/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) SaveLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID int64  `json:"customer_id"`
		Name       string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := h.svc.SaveLocation(r.Context(), domain.Location{
		ID:         chi.URLParam(r, "locationID"),
		CustomerID: body.CustomerID,
		Name:       body.Name,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseID(chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var settings domain.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.SaveSettings(r.Context(), customerID, settings); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p domain.Product
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = 0
	saved, err := h.svc.SaveProduct(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p domain.Product
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = id
	saved, err := h.svc.SaveProduct(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) SavePlacement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		IsBarred bool   `json:"is_barred"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.svc.SavePlacement(r.Context(), domain.Placement{
		LocationID: chi.URLParam(r, "locationID"),
		Name:       body.Name,
		IsBarred:   body.IsBarred,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
