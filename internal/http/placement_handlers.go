package http

import (
	"errors"
	"net/http"

	"stockledger/internal/domain"
	"stockledger/internal/placement"

	"github.com/go-chi/chi/v5"
)

func productInLocation(r *http.Request) (int64, string, error) {
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		return 0, "", err
	}
	return productID, chi.URLParam(r, "locationID"), nil
}

func (h *Handler) GetDefaultPlacement(w http.ResponseWriter, r *http.Request) {
	productID, locationID, err := productInLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := h.svc.DefaultPlacement(r.Context(), productID, locationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

type placementChoice struct {
	PlacementID int64 `json:"placement_id"`
}

func (h *Handler) PreviewDefaultPlacement(w http.ResponseWriter, r *http.Request) {
	productID, locationID, err := productInLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body placementChoice
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := h.svc.PreviewDefaultPlacement(r.Context(), productID, locationID, body.PlacementID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":               plan,
		"needs_confirmation": plan.NeedsConfirmation(),
	})
}

type assignRequest struct {
	PlacementID int64        `json:"placement_id"`
	Confirmed   bool         `json:"confirmed"`
	Actor       domain.Actor `json:"actor"`
}

// AssignDefaultPlacement answers 422 with the migration plan when stock would
// move and the request is not confirmed.
func (h *Handler) AssignDefaultPlacement(w http.ResponseWriter, r *http.Request) {
	productID, locationID, err := productInLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body assignRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.AssignDefaultPlacement(r.Context(), placement.Assignment{
		ProductID:   productID,
		LocationID:  locationID,
		PlacementID: body.PlacementID,
		Confirmed:   body.Confirmed,
		Actor:       body.Actor,
	})
	if errors.Is(err, domain.ErrConfirmationRequired) {
		plan, planErr := h.svc.PreviewDefaultPlacement(r.Context(), productID, locationID, body.PlacementID)
		if planErr != nil {
			h.writeServiceError(w, r, planErr)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"plan":  plan,
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveDefaultPlacement(w http.ResponseWriter, r *http.Request) {
	productID, locationID, err := productInLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.RemoveDefaultPlacement(r.Context(), productID, locationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
