package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	app "github.com/R3E-Network/progression_engine/internal/app"
	"github.com/R3E-Network/progression_engine/internal/app/auth"
)

const testAuthToken = "test-token"

func writeLevelSettings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "levels.yaml")
	body := `levels:
  - level: 1
    min_xp: 0
  - level: 2
    min_xp: 100
  - level: 3
    min_xp: 300
rewards:
  "2":
    grants:
      coins: 50
  "3":
    grants:
      coins: 100
      diamonds: 10
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, cfg ServerConfig) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{SettingsPath: writeLevelSettings(t)}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return NewServerHandler(application, cfg), application
}

func TestHandlerLifecycle(t *testing.T) {
	authMgr := auth.NewManager("test-secret", []auth.User{
		{Username: "admin", Password: "pass", Role: "admin"},
		{Username: "viewer", Password: "view", Role: "viewer"},
	})
	handler, _ := newTestServer(t, ServerConfig{
		Tokens: []string{testAuthToken},
		Auth:   authMgr,
		Audit:  NewAuditLog(50),
	})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles", marshal(map[string]any{"userId": "alice"})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create profile, got %d: %s", resp.Code, resp.Body.String())
	}
	var profile map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &profile); err != nil {
		t.Fatalf("unmarshal profile: %v", err)
	}
	if profile["UserID"] != "alice" || profile["Level"] != float64(1) {
		t.Fatalf("unexpected profile: %v", profile)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles", marshal(map[string]any{"userId": "alice"})))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate profile, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/alice/xp", marshal(map[string]any{"amount": 150, "reason": "quest"})))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 apply xp, got %d: %s", resp.Code, resp.Body.String())
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal apply result: %v", err)
	}
	if result["Level"] != float64(2) || result["LeveledUp"] != true {
		t.Fatalf("unexpected apply result: %v", result)
	}
	credited, _ := result["Credited"].([]any)
	if len(credited) != 1 {
		t.Fatalf("expected 1 credited entry, got %v", result["Credited"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/alice", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 get profile, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/alice/progress", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 progress, got %d", resp.Code)
	}
	var progress map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &progress); err != nil {
		t.Fatalf("unmarshal progress: %v", err)
	}
	if progress["Level"] != float64(2) || progress["Percent"] != float64(25) {
		t.Fatalf("unexpected progress: %v", progress)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/alice/ledger?limit=10", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 ledger, got %d", resp.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(entries) != 1 || entries[0]["Reference"] != "levelup:alice:2:coins" {
		t.Fatalf("unexpected ledger entries: %v", entries)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/alice/balances", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 balances, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/alice/balances?kind=coins", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 balance by kind, got %d", resp.Code)
	}
	var balance map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &balance); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balance["Amount"] != float64(50) {
		t.Fatalf("expected coins balance 50, got %v", balance)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles", marshal(map[string]any{"userId": "bob"})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 second profile, got %d", resp.Code)
	}
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/bob/xp", marshal(map[string]any{"amount": 10})))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 bob xp, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/leaderboard?limit=2", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 leaderboard, got %d", resp.Code)
	}
	var board []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &board); err != nil {
		t.Fatalf("unmarshal leaderboard: %v", err)
	}
	if len(board) != 2 || board[0]["UserID"] != "alice" {
		t.Fatalf("unexpected leaderboard: %v", board)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/levels", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 levels, got %d", resp.Code)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot["version"] != float64(1) || snapshot["max_level"] != float64(3) {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/levels/reload", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 reload, got %d: %s", resp.Code, resp.Body.String())
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal reloaded snapshot: %v", err)
	}
	if snapshot["version"] != float64(2) {
		t.Fatalf("expected snapshot version 2 after reload, got %v", snapshot["version"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/events?limit=20", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 events, got %d", resp.Code)
	}
	var journal []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &journal); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(journal) == 0 {
		t.Fatalf("expected journal events")
	}
	types := make(map[string]bool, len(journal))
	for _, event := range journal {
		if name, ok := event["type"].(string); ok {
			types[name] = true
		}
	}
	if !types["xp.deposited"] || !types["level.up"] {
		t.Fatalf("expected deposit and level-up events, got %v", types)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/audit", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 audit, got %d", resp.Code)
	}
	var trail []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &trail); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(trail) < 3 {
		t.Fatalf("expected recorded mutations, got %v", trail)
	}
	if trail[0]["user"] != "service" || trail[0]["role"] != "admin" {
		t.Fatalf("expected static token identity on audit entry, got %v", trail[0])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, tokenRequest(http.MethodPost, "/auth/login", marshal(map[string]any{
		"username": "admin",
		"password": "pass",
	}), ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 login, got %d: %s", resp.Code, resp.Body.String())
	}
	var login map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login["token"] == "" {
		t.Fatalf("expected token in login response, got %v", login)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, tokenRequest(http.MethodGet, "/v1/events", nil, login["token"]))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 events with admin jwt, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 ready, got %d", resp.Code)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	handler, _ := newTestServer(t, ServerConfig{Tokens: []string{testAuthToken}})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/profiles/ghost", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown profile, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/ghost/xp", marshal(map[string]any{"amount": 50})))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deposit for unknown profile, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles", marshal(map[string]any{"userId": "carol"})))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 profile, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/carol/xp", marshal(map[string]any{"amount": 0})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 zero amount, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/carol/xp", marshal(map[string]any{"amount": 12.5})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 fractional amount, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/v1/profiles/carol/xp", marshal(map[string]any{"amount": 10, "bogus": true})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown field, got %d", resp.Code)
	}
}

func TestHandlerAuthRequired(t *testing.T) {
	handler, _ := newTestServer(t, ServerConfig{Tokens: []string{testAuthToken}})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, tokenRequest(http.MethodGet, "/v1/leaderboard", nil, "wrong-token"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.Code)
	}
}

func TestHandlerAdminRoleRequired(t *testing.T) {
	authMgr := auth.NewManager("test-secret", []auth.User{
		{Username: "viewer", Password: "view", Role: "viewer"},
	})
	handler, _ := newTestServer(t, ServerConfig{Tokens: []string{testAuthToken}, Auth: authMgr})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, tokenRequest(http.MethodPost, "/auth/login", marshal(map[string]any{
		"username": "viewer",
		"password": "view",
	}), ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 viewer login, got %d", resp.Code)
	}
	var login map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/levels/reload"},
		{http.MethodGet, "/v1/events"},
		{http.MethodGet, "/v1/audit"},
	} {
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, tokenRequest(route.method, route.path, nil, login["token"]))
		if resp.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %s %s as viewer, got %d", route.method, route.path, resp.Code)
		}
	}
}

func TestHandlerRateLimit(t *testing.T) {
	handler, _ := newTestServer(t, ServerConfig{
		Tokens:    []string{testAuthToken},
		RateRPS:   1,
		RateBurst: 2,
	})

	var last int
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/v1/leaderboard", nil))
		last = resp.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}

func authedRequest(method, url string, body []byte) *http.Request {
	return tokenRequest(method, url, body, testAuthToken)
}

func tokenRequest(method, url string, body []byte, token string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}
