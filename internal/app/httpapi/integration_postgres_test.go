//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/auth"
	"github.com/R3E-Network/progression_engine/internal/app/runtime"
	"github.com/R3E-Network/progression_engine/internal/platform/database"
	"github.com/joho/godotenv"
)

// Integration test against Postgres to ensure migrations + core flows work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	cfg, err := runtime.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = dsn

	appRuntime, err := runtime.NewApplication(cfg, true)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = appRuntime.Shutdown(ctx) })

	if err := appRuntime.App().Start(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}

	// Wire handler with JWT + tokens backed by persisted db
	appInstance := appRuntime.App()
	tokens := []string{"dev-token"}
	authMgr := auth.NewManager("integration-secret", []auth.User{{Username: "admin", Password: "pass", Role: "admin"}})
	auditBuf := NewAuditLog(100, NewPostgresAuditSink(db))
	handler := NewHandler(appInstance, authMgr, auditBuf, db.PingContext)
	handler = wrapWithAuth(handler, tokens, nil, authMgr)
	handler = wrapWithAudit(handler, auditBuf)
	handler = wrapWithCORS(handler)

	server := httptest.NewServer(handler)
	defer server.Close()

	client := server.Client()

	// The database outlives the test; a fresh user keeps reruns deterministic.
	userID := fmt.Sprintf("pg-user-%d", time.Now().UnixNano())

	status, body := doRequest(t, client, http.MethodPost, server.URL+"/v1/profiles", map[string]any{"userId": userID}, "dev-token")
	if status != http.StatusCreated {
		t.Fatalf("create profile status: %d body %s", status, body)
	}

	status, body = doRequest(t, client, http.MethodPost, server.URL+"/v1/profiles/"+userID+"/xp", map[string]any{
		"amount": 150,
		"reason": "integration",
	}, "dev-token")
	if status != http.StatusOK {
		t.Fatalf("apply xp status: %d body %s", status, body)
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal apply result: %v", err)
	}
	if result["LeveledUp"] != true {
		t.Fatalf("expected level up at 150 xp, got %v", result)
	}

	// A second deposit past the next threshold credits exactly once more.
	status, body = doRequest(t, client, http.MethodPost, server.URL+"/v1/profiles/"+userID+"/xp", map[string]any{
		"amount": 200,
		"reason": "integration",
	}, "dev-token")
	if status != http.StatusOK {
		t.Fatalf("second deposit status: %d body %s", status, body)
	}

	status, body = doRequest(t, client, http.MethodGet, server.URL+"/v1/profiles/"+userID+"/balances?kind=coins", nil, "dev-token")
	if status != http.StatusOK {
		t.Fatalf("balance status: %d body %s", status, body)
	}
	var balance map[string]any
	if err := json.Unmarshal(body, &balance); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balance["Amount"] != float64(150) {
		t.Fatalf("expected 150 coins across two level-ups, got %v", balance)
	}

	status, body = doRequest(t, client, http.MethodGet, server.URL+"/v1/profiles/"+userID+"/ledger", nil, "dev-token")
	if status != http.StatusOK {
		t.Fatalf("ledger status: %d body %s", status, body)
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d: %s", len(entries), body)
	}

	// Health & audit endpoints should work
	resp, err := client.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	status, body = doRequest(t, client, http.MethodGet, server.URL+"/v1/audit", nil, "dev-token")
	if status != http.StatusOK {
		t.Fatalf("audit status: %d body %s", status, body)
	}

	status, body = doRequest(t, client, http.MethodPost, server.URL+"/auth/login", map[string]any{
		"username": "admin",
		"password": "pass",
	}, "")
	if status != http.StatusOK {
		t.Fatalf("login status: %d body %s", status, body)
	}
}

func doRequest(t *testing.T, client *http.Client, method, url string, payload any, token string) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, out
}
