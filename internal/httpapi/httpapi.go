package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"brewledger/backend/internal/domain"
	"brewledger/backend/internal/service"
	"brewledger/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/configs", a.requireAuth(a.handleConfigs, domain.RoleOwner, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/configs/", a.requireAuth(a.handleConfigActions, domain.RoleOwner, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/calculate", a.requireAuth(a.handleCalculate, domain.RoleOwner, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/counter-readings", a.requireAuth(a.handleReadings, domain.RoleOwner, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/counter-readings/", a.requireAuth(a.handleReadingActions, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/cash-register/events", a.requireAuth(a.handleCashEvents, domain.RoleOwner, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/cash-register/balance", a.requireAuth(a.handleBalance, domain.RoleOwner, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/sales-statistics", a.requireAuth(a.handleSalesStatistics, domain.RoleOwner, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/admin/backfill-first-readings", a.requireAuth(a.handleBackfill, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/owners", a.requireAuth(a.handleOwners, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := a.service.ListConfigurations(r.Context())
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
	case http.MethodPost:
		var req domain.ConfigurationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := a.service.CreateConfiguration(r.Context(), req)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"config": cfg})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConfigActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/configs/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	configID, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || configID < 1 {
		writeError(w, http.StatusBadRequest, errors.New("config id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := a.service.GetConfiguration(r.Context(), configID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodPut:
		var req domain.ConfigurationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := a.service.UpdateConfiguration(r.Context(), configID, req)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodDelete:
		if err := a.service.DeleteConfiguration(r.Context(), configID); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CalculateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := a.service.CalculateCosts(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleReadings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configID, err := parseConfigID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		readings, err := a.service.ListReadings(r.Context(), configID, limit)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
	case http.MethodPost:
		var req domain.SubmitReadingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.SubmitReading(r.Context(), req)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleReadingActions covers the administrative delete. A manager PIN in the
// X-Manager-PIN header is required because deletion cascades to derived sales.
func (a *API) handleReadingActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/counter-readings/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	readingID, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || readingID < 1 {
		writeError(w, http.StatusBadRequest, errors.New("reading id required"))
		return
	}

	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !a.pinLimiter.Allow("pin:reading-delete:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	if err := a.service.DeleteReading(r.Context(), configID, readingID); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCashEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configID, err := parseConfigID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		events, err := a.service.ListCashEvents(r.Context(), configID, limit)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case http.MethodPost:
		var req domain.CashEventRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.RecordCashEvent(r.Context(), req)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	balance, err := a.service.GetBalance(r.Context(), configID)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="balance-report.csv"`)
		_, _ = w.Write([]byte(balanceToCSV(balance)))
	case "html":
		readings, err := a.service.ListReadings(r.Context(), configID, 20)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(balanceToPrintableHTML(balance, readings)))
	default:
		writeJSON(w, http.StatusOK, balance)
	}
}

func (a *API) handleSalesStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	configID, err := parseConfigID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	days := 30
	if dayParam := r.URL.Query().Get("days"); dayParam != "" {
		parsed, err := strconv.Atoi(dayParam)
		if err == nil {
			days = parsed
		}
	}

	stats, err := a.service.SalesStatistics(r.Context(), configID, days)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	result, err := a.service.RunBackfill(r.Context())
	if err != nil {
		status := errorStatus(err)
		if strings.Contains(strings.ToLower(err.Error()), "admin role required") {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleOwners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		owners := a.auth.ListOwners()
		writeJSON(w, http.StatusOK, map[string]any{"owners": owners})
	case http.MethodPost:
		var req domain.OwnerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		owner, err := a.auth.CreateOwner(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"owner": owner})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidRequest),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidEventKind),
		errors.Is(err, store.ErrMalformedCounters):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseConfigID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("config_id"))
	if raw == "" {
		return 0, nil
	}
	configID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || configID < 1 {
		return 0, errors.New("invalid config_id")
	}
	return configID, nil
}

func balanceToCSV(balance domain.Balance) string {
	lines := []string{
		"key,value",
		fmt.Sprintf("actual_cash,%s", balance.ActualCash),
		fmt.Sprintf("expected_cash,%s", balance.ExpectedCash),
		fmt.Sprintf("difference,%s", balance.Difference),
		fmt.Sprintf("total_sales,%s", balance.TotalSales),
		fmt.Sprintf("status,%s", balance.Status),
	}
	if balance.LastReadingAt != nil {
		lines = append(lines, fmt.Sprintf("last_reading_at,%s", balance.LastReadingAt.Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n") + "\n"
}

// balanceHTMLTmpl renders the printable reconciliation report. User-controlled
// fields are auto-escaped by html/template.
var balanceHTMLTmpl = template.Must(template.New("balance-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Cash Register Balance</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
    .status-ok { color: #2e7d32; }
    .status-warning { color: #f9a825; }
    .status-check_required { color: #c62828; }
  </style>
</head>
<body>
  <h2>Cash Register Balance</h2>
  <p>Actual: {{.Balance.ActualCash}} | Expected: {{.Balance.ExpectedCash}} | Difference: {{.Balance.Difference}} | Sales: {{.Balance.TotalSales}}</p>
  <p>Status: <strong class="status-{{.Balance.Status}}">{{.Balance.Status}}</strong></p>

  <h3>Recent Readings</h3>
  <table>
    <thead><tr><th>ID</th><th>Kind</th><th>Cash</th><th>Notes</th><th>Date</th></tr></thead>
    <tbody>{{range .Readings}}<tr><td>{{.ID}}</td><td>{{.Kind}}</td><td style="text-align:right;">{{.Cash}}</td><td>{{.Notes}}</td><td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func balanceToPrintableHTML(balance domain.Balance, readings []domain.Reading) string {
	var buf bytes.Buffer
	data := struct {
		Balance  domain.Balance
		Readings []domain.Reading
	}{Balance: balance, Readings: readings}
	if err := balanceHTMLTmpl.Execute(&buf, data); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so storage errors never leak.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
