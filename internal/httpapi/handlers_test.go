package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

type testEnv struct {
	api     *API
	handler http.Handler
	svc     *service.Service
	repo    *memory.Store
}

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, service.Options{})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	api := New(svc, auth, Options{AllowedOrigin: "*", LoginRate: "5-M", Heartbeat: 50 * time.Millisecond})

	return &testEnv{api: api, handler: api.Handler(), svc: svc, repo: repo}
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestAPI(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	env := newTestAPI(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
	if body["role"] != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %v", body["role"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	env := newTestAPI(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	env := newTestAPI(t)
	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	if len(body.Products) != 3 {
		t.Fatalf("expected 3 seeded products, got %d", len(body.Products))
	}
}

func TestProductVariantsEndpoint(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodGet, "/api/v1/products/"+memory.SeedMugProductID+"/variants?branch_id="+memory.SeedBranchID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Variants []map[string]any `json:"variants"`
	}
	decodeBody(t, rec, &body)
	if len(body.Variants) == 0 {
		t.Fatalf("expected variant options for the mug")
	}
	last := body.Variants[len(body.Variants)-1]
	if last["name"] != domain.TotalUnspecifiedVariant {
		t.Fatalf("expected synthetic unspecified option last, got %v", last["name"])
	}
}

func TestCartCheckoutAndReceipt(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodPost, "/api/v1/carts", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cart: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Cart struct {
			ID string `json:"id"`
		} `json:"cart"`
	}
	decodeBody(t, rec, &created)
	cartID := created.Cart.ID

	rec = env.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/lines", token, service.AddCartLineRequest{
		ProductID: memory.SeedVaseProductID,
		BranchID:  memory.SeedBranchID,
		Quantity:  2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add line: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/invoices/sales", token, service.SalesInvoiceRequest{
		CartID:   cartID,
		BranchID: memory.SeedBranchID,
		RecordID: memory.SeedTillRecordID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sales invoice: %d %s", rec.Code, rec.Body.String())
	}
	var result service.InvoiceResult
	decodeBody(t, rec, &result)
	if result.TotalAmount.IntPart() != 240 {
		t.Fatalf("expected total 240, got %s", result.TotalAmount)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/invoices/"+result.InvoiceID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get invoice: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/invoices/"+result.InvoiceID+"/receipt", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html receipt, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), result.InvoiceNumber) {
		t.Fatalf("expected receipt to carry the invoice number")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/carts/"+cartID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected committed cart to be gone, got %d", rec.Code)
	}
}

func TestSalesInvoiceValidationIs400(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodPost, "/api/v1/invoices/sales", token, service.SalesInvoiceRequest{
		RecordID: memory.SeedTillRecordID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/invoices/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown invoice, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectCashier(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	for _, path := range []string{"/api/v1/invoices/purchases", "/api/v1/orders/sweep", "/api/v1/inventory/adjust"} {
		rec := env.do(t, http.MethodPost, path, token, map[string]any{})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}
	rec := env.do(t, http.MethodGet, "/api/v1/audit-logs", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("audit logs: expected 403, got %d", rec.Code)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	env := newTestAPI(t)
	admin := env.login(t, "admin", "admin123")

	rec := env.do(t, http.MethodGet, "/api/v1/inventory/low-stock?branch_id="+memory.SeedBranchID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("low stock: %d %s", rec.Code, rec.Body.String())
	}
	var low struct {
		Inventory []domain.InventoryRecord `json:"inventory"`
	}
	decodeBody(t, rec, &low)
	if len(low.Inventory) != 1 || low.Inventory[0].ProductID != memory.SeedVaseProductID {
		t.Fatalf("expected only the vase below minimum, got %+v", low.Inventory)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/inventory/adjust", admin, inventoryAdjustRequest{
		ProductID: memory.SeedTrayProductID,
		Location:  domain.BranchLocation(memory.SeedBranchID),
		Delta:     -20,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body.String())
	}
	var adjusted struct {
		Inventory domain.InventoryRecord `json:"inventory"`
	}
	decodeBody(t, rec, &adjusted)
	if adjusted.Inventory.Quantity != 0 {
		t.Fatalf("expected stock floored at zero, got %d", adjusted.Inventory.Quantity)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/inventory?branch_id=a&warehouse_id=b", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ambiguous location, got %d", rec.Code)
	}
}

func TestOrderWorkflowThroughGate(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")
	// seeded order 2 is a processing pickup order of two trays
	base := "/api/v1/orders/2"

	rec := env.do(t, http.MethodPost, base+"/complete-preparation", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unprepared completion to be rejected, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, base+"/items/prepare", token, prepareItemRequest{GroupKey: memory.SeedTrayProductID, Prepared: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, base+"/complete-preparation", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	var completed struct {
		Order service.OrderView `json:"order"`
	}
	decodeBody(t, rec, &completed)
	if completed.Order.Status != domain.OrderStatusReadyForPickup {
		t.Fatalf("expected ready_for_pickup, got %s", completed.Order.Status)
	}

	rec = env.do(t, http.MethodPost, base+"/advance", token, service.GateInput{
		BranchID: memory.SeedBranchID,
		RecordID: memory.SeedTillRecordID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rec.Code, rec.Body.String())
	}
	var advanced service.AdvanceResult
	decodeBody(t, rec, &advanced)
	if advanced.Order.Status != domain.OrderStatusDelivered || advanced.Invoice == nil || !advanced.Invoice.Success {
		t.Fatalf("unexpected advance result %+v", advanced)
	}
}

func TestAdvancePendingOrderIsConflict(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodPost, "/api/v1/orders/1/advance", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/orders/abc/cancel", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad order number, got %d", rec.Code)
	}
}

func TestEditItemsEndpoint(t *testing.T) {
	env := newTestAPI(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, http.MethodGet, "/api/v1/orders/1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Order service.OrderView `json:"order"`
	}
	decodeBody(t, rec, &got)
	if len(got.Order.Items) != 2 {
		t.Fatalf("expected two seeded items, got %d", len(got.Order.Items))
	}

	keep := got.Order.Items[1]
	rec = env.do(t, http.MethodPut, "/api/v1/orders/1/items", token, editItemsRequest{
		Items: []service.OrderItemEdit{{ID: keep.ID, Quantity: 2, Notes: keep.Notes}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit items: %d %s", rec.Code, rec.Body.String())
	}
	var edited struct {
		Order service.OrderView `json:"order"`
	}
	decodeBody(t, rec, &edited)
	want := keep.UnitPrice.IntPart()*2 + 25
	if edited.Order.TotalAmount.IntPart() != want {
		t.Fatalf("expected total %d, got %s", want, edited.Order.TotalAmount)
	}
}

func TestSweepEndpointForAdmin(t *testing.T) {
	env := newTestAPI(t)
	admin := env.login(t, "admin", "admin123")

	rec := env.do(t, http.MethodPost, "/api/v1/orders/sweep", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: %d %s", rec.Code, rec.Body.String())
	}
	var report service.SweepReport
	decodeBody(t, rec, &report)
	if report.Failed != 0 {
		t.Fatalf("unexpected sweep failures %+v", report)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{&service.ValidationError{Field: "branch_id", Message: "required"}, http.StatusBadRequest, "branch_id"},
		{fmt.Errorf("wrap: %w", service.ErrInvalidTransition), http.StatusConflict, "invalid status transition"},
		{service.ErrForbidden, http.StatusForbidden, "forbidden"},
		{&service.CommitError{Message: "تعذر حفظ الفاتورة", Err: errors.New("pq: deadlock")}, http.StatusUnprocessableEntity, "تعذر حفظ الفاتورة"},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%v: expected body to contain %q, got %s", tc.err, tc.body, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "deadlock") || strings.Contains(rec.Body.String(), "refused") {
			t.Fatalf("expected internal detail to stay hidden, got %s", rec.Body.String())
		}
	}
}

func TestCashierManagement(t *testing.T) {
	env := newTestAPI(t)
	admin := env.login(t, "admin", "admin123")

	rec := env.do(t, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "till-two", Password: "secret123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: %d %s", rec.Code, rec.Body.String())
	}
	env.login(t, "till-two", "secret123")

	rec = env.do(t, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	var body struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	decodeBody(t, rec, &body)
	if len(body.Cashiers) != 2 {
		t.Fatalf("expected seeded and new cashier, got %+v", body.Cashiers)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes.
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
