package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tengepos/backend/internal/cache"
	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/service"
	"tengepos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(decimal.NewFromFloat(0.12))
	svc := service.New(repo, cache.NewMemoryReportCache(20), 5*time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestProductCreateForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, csrf, map[string]any{
		"sku":           "SKU-NEW-01",
		"name":          "Sunflower Oil 1L",
		"unit_type":     "piece",
		"price":         890,
		"cost_price":    540,
		"initial_stock": 10,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier product create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestTransactionLifecycleOverHTTP walks a sale from start to completion
// through the public endpoints.
func TestTransactionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	productID := findProductID(t, api, token, "SKU-SU-01")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", token, csrf, map[string]string{
		"cashier_name": "cashier",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start transaction: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	started := decodeBody(t, rec)
	txID, _ := started["id"].(string)
	if txID == "" {
		t.Fatalf("expected transaction id in response, got %v", started)
	}
	number, _ := started["number"].(string)
	if !strings.HasPrefix(number, "TXN") {
		t.Fatalf("expected TXN-prefixed number, got %q", number)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/items", token, csrf, map[string]any{
		"product_id": productID,
		"quantity":   2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	added := decodeBody(t, rec)
	// 2 x 210.00 plus 12% tax.
	if total := fmt.Sprintf("%v", added["transaction_total"]); total != "470.4" {
		t.Fatalf("expected transaction total 470.4, got %v", total)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/complete", token, csrf, map[string]any{
		"payments": []map[string]any{{"method": "cash", "amount": 470.40}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	completed := decodeBody(t, rec)
	if completed["transaction_id"] != txID {
		t.Fatalf("expected completed id %s, got %v", txID, completed["transaction_id"])
	}
	if completed["completed_at"] == "" || completed["completed_at"] == nil {
		t.Fatalf("expected completed_at timestamp, got %v", completed)
	}
}

func TestCompleteWithMismatchedPaymentReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	productID := findProductID(t, api, token, "SKU-NAN-01")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", token, csrf, map[string]string{
		"cashier_name": "cashier",
	})
	txID, _ := decodeBody(t, rec)["id"].(string)
	doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/items", token, csrf, map[string]any{
		"product_id": productID,
		"quantity":   1,
	})

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/complete", token, csrf, map[string]any{
		"payments": []map[string]any{{"method": "cash", "amount": 1.00}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched payment, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUnknownPromoReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	productID := findProductID(t, api, token, "SKU-NAN-01")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", token, csrf, map[string]string{
		"cashier_name": "cashier",
	})
	txID, _ := decodeBody(t, rec)["id"].(string)
	doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/items", token, csrf, map[string]any{
		"product_id": productID,
		"quantity":   1,
	})

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/promo", token, csrf, map[string]string{
		"code": "NO-SUCH-CODE",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown promo, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSuspendThenDoubleSuspendConflicts(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", token, csrf, map[string]string{
		"cashier_name": "cashier",
	})
	txID, _ := decodeBody(t, rec)["id"].(string)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/suspend", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("suspend: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions/"+txID+"/suspend", token, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double suspend: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func findProductID(t *testing.T, api *API, token string, sku string) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products failed: %d", rec.Code)
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	for _, p := range body.Products {
		if p.SKU == sku {
			return p.ID
		}
	}
	t.Fatalf("product %s not found in catalog", sku)
	return ""
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, rec.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
