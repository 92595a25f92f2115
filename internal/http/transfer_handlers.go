package http

import (
	"net/http"
	"strconv"
	"strings"

	"stockledger/internal/transfer"
)

// TransferBetweenLocations validates a cross-location batch and applies it
// unless dry_run is set. A rejected batch answers 422 with every line error.
func (h *Handler) TransferBetweenLocations(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := strings.TrimSpace(r.URL.Query().Get("dry_run")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dry_run must be true or false")
			return
		}
		dryRun = parsed
	}

	var req transfer.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		res transfer.Result
		err error
	)
	if dryRun {
		res, err = h.svc.ValidateTransfer(r.Context(), req)
	} else {
		res, err = h.svc.ApplyTransfer(r.Context(), req)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if res.Errors == nil {
		res.Errors = []transfer.LineError{}
	}

	switch {
	case !res.OK:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	case dryRun:
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}
