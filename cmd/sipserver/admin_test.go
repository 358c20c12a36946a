package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yourusername/sip2-server/pkg/auth"
	"github.com/yourusername/sip2-server/pkg/config"
	"github.com/yourusername/sip2-server/pkg/ils"
	"github.com/yourusername/sip2-server/pkg/sip2"
)

func testRouterConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Accounts = map[string]config.Account{
		"term1": {Password: "scpass", Institution: "UWOLS", PrintWidth: 40},
	}
	cfg.Admin = config.Admin{
		Addr:      ":0",
		JWTSecret: "test-secret",
		Users:     []config.AdminUser{{Username: "admin", Password: hash, Role: "admin"}},
	}
	auth.SetSecret(cfg.Admin.JWTSecret)
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	srv := sip2.NewServer(cfg, ils.NewMemorySeeded(cfg.Institution))
	return setupRouter(cfg, srv)
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, testRouterConfig(t))
	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health = %d; body %s", w.Code, w.Body.String())
	}
}

func TestAdminLogin(t *testing.T) {
	r := newTestRouter(t, testRouterConfig(t))

	body := `{"username": "admin", "password": "secret"}`
	req, _ := http.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d; body %s", w.Code, w.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("no token issued")
	}

	// The token opens the protected routes.
	req, _ = http.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("stats with token = %d; body %s", w.Code, w.Body.String())
	}
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	r := newTestRouter(t, testRouterConfig(t))
	body := `{"username": "admin", "password": "wrong"}`
	req, _ := http.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d; want 401", w.Code)
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	r := newTestRouter(t, testRouterConfig(t))
	req, _ := http.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated stats = %d; want 401", w.Code)
	}
}

func TestAPIKeyBypass(t *testing.T) {
	t.Setenv("SIP_ADMIN_API_KEY", "test-key")
	r := newTestRouter(t, testRouterConfig(t))

	req, _ := http.NewRequest("GET", "/api/accounts", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("accounts with api key = %d; body %s", w.Code, w.Body.String())
	}
	// Account passwords never leave the server.
	if bytes.Contains(w.Body.Bytes(), []byte("scpass")) {
		t.Error("account password leaked in the accounts listing")
	}
}
