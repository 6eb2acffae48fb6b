package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/service"
	"brewledger/backend/internal/store/memory"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", value, err)
	}
	return d
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.New()
	for _, u := range []struct {
		username string
		role     string
	}{
		{"admin", domain.RoleAdmin},
		{"barista", domain.RoleOwner},
	} {
		err := repo.CreateUser(context.Background(), domain.UserAccount{
			Username:  u.username,
			Password:  u.username + "-pass",
			Role:      u.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", u.username, err)
		}
	}

	svc := service.New(repo, nil, 0)
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)
	api := New(svc, auth, "*")

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status = %d, body %s", resp.StatusCode, raw)
	}
	var out domain.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return out.AccessToken
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, payload any, headers map[string]string) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/v1/counter-readings", "", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/counter-readings", "not-a-jwt", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad-token status = %d, want 401", resp.StatusCode)
	}
}

func TestReadingSubmissionAndBalanceFlow(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "barista", "barista-pass")

	prices := map[string]decimal.Decimal{"espresso": dec(t, "1.30")}

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/counter-readings", token, domain.SubmitReadingRequest{
		Counters: map[string]int64{"espresso": 100},
		Cash:     dec(t, "50.00"),
		Prices:   prices,
	}, nil)
	var first domain.SubmitReadingResponse
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first reading status = %d, want 201", resp.StatusCode)
	}
	decodeBody(t, resp, &first)
	if len(first.DerivedSales) != 0 {
		t.Fatalf("first reading derived %d sales, want 0", len(first.DerivedSales))
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/counter-readings", token, domain.SubmitReadingRequest{
		Counters: map[string]int64{"espresso": 110},
		Cash:     dec(t, "60.00"),
		Prices:   prices,
	}, nil)
	var second domain.SubmitReadingResponse
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second reading status = %d, want 201", resp.StatusCode)
	}
	decodeBody(t, resp, &second)
	if len(second.DerivedSales) != 1 || second.DerivedSales[0].Quantity != 10 {
		t.Fatalf("unexpected derived sales: %+v", second.DerivedSales)
	}
	if !second.DerivedSales[0].Revenue.Equal(dec(t, "13.00")) {
		t.Fatalf("revenue = %s, want 13.00", second.DerivedSales[0].Revenue)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/cash-register/balance", token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status = %d, want 200", resp.StatusCode)
	}
	var balance domain.Balance
	decodeBody(t, resp, &balance)
	if !balance.ActualCash.Equal(dec(t, "60.00")) {
		t.Fatalf("actual cash = %s, want 60.00", balance.ActualCash)
	}
	if !balance.ExpectedCash.Equal(dec(t, "73.00")) {
		t.Fatalf("expected cash = %s, want 73.00", balance.ExpectedCash)
	}
	if !balance.Difference.Equal(dec(t, "-13.00")) {
		t.Fatalf("difference = %s, want -13.00", balance.Difference)
	}
	if balance.Status != domain.BalanceStatusCheckRequired {
		t.Fatalf("status = %s, want %s", balance.Status, domain.BalanceStatusCheckRequired)
	}
}

func TestCashEventEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "barista", "barista-pass")

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/counter-readings", token, domain.SubmitReadingRequest{
		Counters: map[string]int64{"latte": 40},
		Cash:     dec(t, "80.00"),
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reading status = %d, want 201", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/cash-register/events", token, domain.CashEventRequest{
		Type:        domain.CashEventWithdrawal,
		Amount:      dec(t, "25.00"),
		Description: "bank drop",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cash event status = %d, want 201", resp.StatusCode)
	}
	var eventResp domain.CashEventResponse
	decodeBody(t, resp, &eventResp)
	if eventResp.EventID == "" || eventResp.NewReadingID == nil {
		t.Fatalf("unexpected cash event response: %+v", eventResp)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/cash-register/events", token, domain.CashEventRequest{
		Type:   domain.CashEventWithdrawal,
		Amount: dec(t, "9999.00"),
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("overdraw status = %d, want 400", resp.StatusCode)
	}
}

func TestReadingDeleteRequiresAdminAndManagerPIN(t *testing.T) {
	srv := newTestServer(t)
	adminToken := login(t, srv, "admin", "admin-pass")

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/counter-readings", adminToken, domain.SubmitReadingRequest{
		Counters: map[string]int64{"espresso": 10},
		Cash:     dec(t, "20.00"),
	}, nil)
	var created domain.SubmitReadingResponse
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reading status = %d, want 201", resp.StatusCode)
	}
	decodeBody(t, resp, &created)

	path := fmt.Sprintf("/api/v1/counter-readings/%d", created.ReadingID)

	ownerToken := login(t, srv, "barista", "barista-pass")
	resp = doRequest(t, srv, http.MethodDelete, path, ownerToken, nil, map[string]string{"X-Manager-PIN": "4321"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("owner delete status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, path, adminToken, nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete without pin status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, path, adminToken, nil, map[string]string{"X-Manager-PIN": "0000"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete with wrong pin status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, path, adminToken, nil, map[string]string{"X-Manager-PIN": "4321"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete with pin status = %d, want 200", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, path, adminToken, nil, map[string]string{"X-Manager-PIN": "4321"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing reading status = %d, want 404", resp.StatusCode)
	}
}

func TestBalanceReportFormats(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "barista", "barista-pass")

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/counter-readings", token, domain.SubmitReadingRequest{
		Counters: map[string]int64{"espresso": 5},
		Cash:     dec(t, "15.00"),
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reading status = %d, want 201", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/cash-register/balance?format=csv", token, nil, nil)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("csv content type = %q", ct)
	}
	if !strings.Contains(string(raw), "actual_cash,15") {
		t.Fatalf("csv missing actual_cash line: %s", raw)
	}

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/cash-register/balance?format=html", token, nil, nil)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("html status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("html content type = %q", ct)
	}
	if !strings.Contains(string(raw), "Cash Register Balance") {
		t.Fatal("html report missing title")
	}
}

func TestConfigEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "barista", "barista-pass")

	req := domain.ConfigurationRequest{
		Name:           "Kiosk",
		ProductsPerDay: 40,
		ProductPrices:  map[string]decimal.Decimal{"espresso": dec(t, "1.30")},
	}
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/configs", token, req, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create config status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		Config domain.Configuration `json:"config"`
	}
	decodeBody(t, resp, &created)
	if created.Config.ID < 1 || created.Config.OwnerID != "barista" {
		t.Fatalf("unexpected config: %+v", created.Config)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/configs", token, req, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate config status = %d, want 409", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/configs/%d", created.Config.ID), token, nil, nil)
	var fetched struct {
		Config domain.Configuration `json:"config"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get config status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &fetched)
	if fetched.Config.Name != "Kiosk" {
		t.Fatalf("config name = %q, want Kiosk", fetched.Config.Name)
	}

	resp = doRequest(t, srv, http.MethodPost, "/api/v1/configs", token, domain.ConfigurationRequest{Name: "   "}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank-name config status = %d, want 400", resp.StatusCode)
	}
}

func TestBackfillIsAdminOnly(t *testing.T) {
	srv := newTestServer(t)

	ownerToken := login(t, srv, "barista", "barista-pass")
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/admin/backfill-first-readings", ownerToken, nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("owner backfill status = %d, want 403", resp.StatusCode)
	}

	adminToken := login(t, srv, "admin", "admin-pass")
	resp = doRequest(t, srv, http.MethodPost, "/api/v1/admin/backfill-first-readings", adminToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin backfill status = %d, want 200", resp.StatusCode)
	}
	var result domain.BackfillResult
	decodeBody(t, resp, &result)
	if result.ReadingsFixed != 0 {
		t.Fatalf("empty store backfill fixed %d readings, want 0", result.ReadingsFixed)
	}
}

func TestOwnerManagement(t *testing.T) {
	srv := newTestServer(t)
	adminToken := login(t, srv, "admin", "admin-pass")

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/users/owners", adminToken, domain.OwnerCreateRequest{
		Username: "kiosk-two",
		Password: "secret99",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("create owner status = %d, body %s", resp.StatusCode, raw)
	}
	resp.Body.Close()

	resp = doRequest(t, srv, http.MethodGet, "/api/v1/users/owners", adminToken, nil, nil)
	var listed struct {
		Owners []domain.OwnerUser `json:"owners"`
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list owners status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &listed)
	found := false
	for _, owner := range listed.Owners {
		if owner.Username == "kiosk-two" {
			found = true
		}
	}
	if !found {
		t.Fatalf("kiosk-two missing from owners: %+v", listed.Owners)
	}

	// New owner can log in immediately.
	login(t, srv, "kiosk-two", "secret99")

	ownerToken := login(t, srv, "barista", "barista-pass")
	resp = doRequest(t, srv, http.MethodGet, "/api/v1/users/owners", ownerToken, nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("owner listing owners status = %d, want 403", resp.StatusCode)
	}
}

func TestLoginRateLimiting(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(domain.LoginRequest{Username: "barista", Password: "wrong"})
	lastStatus := 0
	for i := 0; i < 6; i++ {
		resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("login attempt %d: %v", i, err)
		}
		lastStatus = resp.StatusCode
		resp.Body.Close()
	}
	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("sixth login status = %d, want 429", lastStatus)
	}
}

func TestCalculateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "barista", "barista-pass")

	resp := doRequest(t, srv, http.MethodPost, "/api/v1/calculate", token, domain.CalculateRequest{
		Ingredients:    map[string]decimal.Decimal{"beans": dec(t, "18.00")},
		ProductsPerDay: 10,
		CleaningCost:   dec(t, "2.00"),
		Drinks: []domain.DrinkSpec{
			{Name: "espresso", Ingredients: map[string]decimal.Decimal{"beans": dec(t, "0.008")}},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("calculate status = %d, body %s", resp.StatusCode, raw)
	}
	var out struct {
		Results []domain.DrinkCost `json:"results"`
	}
	decodeBody(t, resp, &out)
	if len(out.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(out.Results))
	}
	// 0.008 kg beans at 18.00/kg plus 2.00 cleaning over 10 products.
	if !out.Results[0].TotalCost.Equal(dec(t, "0.34")) {
		t.Fatalf("espresso cost = %s, want 0.34", out.Results[0].TotalCost)
	}
}
