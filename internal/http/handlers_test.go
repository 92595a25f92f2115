package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/guard"
	"stockledger/internal/memstore"
	"stockledger/internal/movement"
	"stockledger/internal/service"

	"go.uber.org/zap"
)

type testServer struct {
	store   *memstore.Store
	router  http.Handler
	product domain.Product
	a, b    domain.Placement
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	store.AddLocation(domain.Location{ID: "L1", CustomerID: 1, Name: "Main"})
	store.AddLocation(domain.Location{ID: "L2", CustomerID: 1, Name: "Outlet"})
	store.SetSettings(1, domain.Settings{UsePlacement: true})
	product := store.AddProduct(domain.Product{CustomerID: 1, SKU: "SKU-1"})

	svc := service.New(store, guard.NewMemory(time.Minute), zap.NewNop(), service.Options{})
	return &testServer{
		store:   store,
		router:  NewRouter(NewHandler(svc, zap.NewNop()), zap.NewNop()),
		product: product,
		a:       store.AddPlacement(domain.Placement{LocationID: "L1", Name: "A"}),
		b:       store.AddPlacement(domain.Placement{LocationID: "L1", Name: "B"}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// receive books amount onto placementID and returns the batch it landed in.
func (s *testServer) receive(t *testing.T, placementID int64, amount int) int64 {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/movements", map[string]any{
		"type":        "incoming",
		"location_id": "L1",
		"product_id":  s.product.ID,
		"placement":   map[string]any{"id": placementID},
		"amount":      amount,
		"actor":       map[string]any{"user_id": 7, "name": "jane", "platform": "APP"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("incoming: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res movement.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Movements) != 1 {
		t.Fatalf("expected one movement, got %+v", res.Movements)
	}
	return res.Movements[0].BatchID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestApplyMovementReportsShortage(t *testing.T) {
	s := newTestServer(t)
	batchID := s.receive(t, s.a.ID, 10)

	rec := s.do(t, http.MethodPost, "/api/v1/movements", map[string]any{
		"type":         "outgoing",
		"location_id":  "L1",
		"product_id":   s.product.ID,
		"placement_id": s.a.ID,
		"batch_id":     batchID,
		"amount":       "12",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != "insufficient_stock" || body["available"] != "10" {
		t.Fatalf("unexpected shortage body %+v", body)
	}

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/locations/L1/records?product_id=%d", s.product.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("records: expected 200, got %d", rec.Code)
	}
	items, _ := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one record, got %s", rec.Body.String())
	}
}

func TestApplyMovementRejectsBadBodies(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"teleport","location_id":"L1"}`},
		{"missing type", `{"location_id":"L1"}`},
		{"unknown field", `{"type":"incoming","location_id":"L1","product_id":1,"amount":"1","colour":"red"}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/movements", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRecordsUnknownLocation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/locations/nowhere/records", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTransferDryRun(t *testing.T) {
	s := newTestServer(t)
	batchID := s.receive(t, s.a.ID, 10)
	line := func(qty int) map[string]any {
		return map[string]any{
			"source_location_id": "L1",
			"lines": []map[string]any{{
				"product_id":        s.product.ID,
				"from_placement_id": s.a.ID,
				"from_batch_id":     batchID,
				"to_location_id":    "L2",
				"quantity":          qty,
			}},
		}
	}

	rec := s.do(t, http.MethodPost, "/api/v1/transfers/locations?dry_run=true", line(4))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["ok"] != true {
		t.Fatalf("expected accepted dry run, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/v1/locations/L2/records", nil)
	if items, _ := decodeBody(t, rec)["items"].([]any); len(items) != 0 {
		t.Fatalf("dry run must not move stock, got %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/transfers/locations?dry_run=true", line(99))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if errs, _ := decodeBody(t, rec)["errors"].([]any); len(errs) != 1 {
		t.Fatalf("expected one line error, got %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/transfers/locations", line(4))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBulkReorder(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/reorders", map[string]any{
		"location_id":      "L1",
		"product_id":       s.product.ID,
		"minimum":          10,
		"max_order_amount": 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/v1/reorders", map[string]any{
		"location_id": "L1",
		"product_id":  s.product.ID,
		"minimum":     10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate rule: expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/reorders/bulk", map[string]any{
		"location_id": "L1",
		"request_id":  "req-1",
		"lines": []map[string]any{
			{"product_id": s.product.ID, "quantity": 3},
			{"product_id": s.product.ID, "quantity": 9},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bulk: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	failed, _ := body["failed"].([]any)
	if body["order"] == nil || len(failed) != 1 {
		t.Fatalf("expected an order and one failed line, got %s", rec.Body.String())
	}
	if code := failed[0].(map[string]any)["code"]; code != "limit-exceeded" {
		t.Fatalf("expected limit-exceeded, got %v", code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/reorders/bulk", map[string]any{
		"location_id": "L1",
		"request_id":  "req-1",
		"lines":       []map[string]any{{"product_id": s.product.ID, "quantity": 1}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("replayed request: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/reorders/bulk", map[string]any{
		"location_id": "L1",
		"lines":       []map[string]any{{"product_id": s.product.ID, "quantity": 9}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("all lines rejected: expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reorders/L1/%d/recommendation", s.product.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recommendation: expected 200, got %d", rec.Code)
	}
	if rule, _ := decodeBody(t, rec)["rule"].(map[string]any); rule["ordered"] != "3" {
		t.Fatalf("expected 3 on order, got %s", rec.Body.String())
	}
}

func TestAssignDefaultPlacementNeedsConfirmation(t *testing.T) {
	s := newTestServer(t)
	s.receive(t, s.a.ID, 5)
	path := fmt.Sprintf("/api/v1/locations/L1/products/%d/default-placement", s.product.ID)

	rec := s.do(t, http.MethodPut, path, map[string]any{"placement_id": s.b.ID})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	plan, _ := decodeBody(t, rec)["plan"].(map[string]any)
	if moves, _ := plan["moves"].([]any); len(moves) != 1 {
		t.Fatalf("expected the plan to list one move, got %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, path, map[string]any{"placement_id": s.b.ID, "confirmed": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["placement_id"] != float64(s.b.ID) {
		t.Fatalf("expected default %d, got %d: %s", s.b.ID, rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, path, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["changed"] != true {
		t.Fatalf("expected removal, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCatalogSync(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/catalog/products", map[string]any{
		"customer_id": 1,
		"sku":         "SKU-2",
		"cost_price":  "2.5",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/v1/catalog/products", map[string]any{"customer_id": 1, "sku": "SKU-2"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate sku: expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/v1/catalog/locations/L1/placements", map[string]any{"name": "C", "is_barred": true})
	if rec.Code != http.StatusOK || decodeBody(t, rec)["is_barred"] != true {
		t.Fatalf("save placement: got %d: %s", rec.Code, rec.Body.String())
	}
}
