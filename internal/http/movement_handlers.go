package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"stockledger/internal/domain"
	"stockledger/internal/excel"
	"stockledger/internal/ledger"
	"stockledger/internal/movement"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func decodeStrict(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeMovement reads a body tagged with "type" into the matching request.
func decodeMovement(raw []byte) (movement.Request, error) {
	var tag struct {
		Type domain.MovementType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}

	switch tag.Type {
	case domain.MovementIncoming:
		var body struct {
			Type domain.MovementType `json:"type"`
			movement.Incoming
		}
		if err := decodeStrict(raw, &body); err != nil {
			return nil, err
		}
		return body.Incoming, nil
	case domain.MovementOutgoing:
		var body struct {
			Type domain.MovementType `json:"type"`
			movement.Outgoing
		}
		if err := decodeStrict(raw, &body); err != nil {
			return nil, err
		}
		return body.Outgoing, nil
	case domain.MovementAdjustment:
		var body struct {
			Type domain.MovementType `json:"type"`
			movement.Adjustment
		}
		if err := decodeStrict(raw, &body); err != nil {
			return nil, err
		}
		return body.Adjustment, nil
	case domain.MovementTransfer:
		var body struct {
			Type domain.MovementType `json:"type"`
			movement.Transfer
		}
		if err := decodeStrict(raw, &body); err != nil {
			return nil, err
		}
		return body.Transfer, nil
	case "":
		return nil, fmt.Errorf("type is required")
	default:
		return nil, fmt.Errorf("unknown movement type %q", tag.Type)
	}
}

func (h *Handler) ApplyMovement(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	req, err := decodeMovement(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.ApplyMovement(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) TransferWithinLocation(w http.ResponseWriter, r *http.Request) {
	var req movement.Transfer
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.TransferWithinLocation(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.RecordFilter{LocationID: chi.URLParam(r, "locationID")}

	var err error
	if filter.ProductID, err = parseOptionalInt64(query.Get("product_id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.PlacementID, err = parseOptionalInt64(query.Get("placement_id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw := strings.TrimSpace(query.Get("available")); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "available must be true or false")
			return
		}
		filter.AvailableOnly = available
	}

	records, err := h.svc.Records(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.HistoryFilter{
		LocationID: chi.URLParam(r, "locationID"),
		Type:       domain.MovementType(strings.TrimSpace(query.Get("type"))),
	}

	var err error
	if filter.ProductID, err = parseOptionalInt64(query.Get("product_id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, err = parseOptionalInt(query.Get("limit"), 200); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = parseOptionalInt(query.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.From, err = parseOptionalTime(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from time")
		return
	}
	if filter.To, err = parseOptionalTime(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to time")
		return
	}

	history, err := h.svc.History(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.Movement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  history,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	rows, err := excel.ParseHistoryRows(header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.ImportHistory(r.Context(), chi.URLParam(r, "locationID"), rows)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name": header.Filename,
		"report":    report,
	})
}
