package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_MiddlewareChain は
// recovery -> security headers -> metrics -> rate limit -> session のチェーンが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_MiddlewareChain(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mc := newMockMetrics()

	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    100,
		CleanupInterval: time.Minute,
	}, mc)

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewMetricsMiddleware(mc))
	r.Use(rl.Middleware())

	// 認証不要のルート
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	// 認証が必要なルートグループ
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(validTokenAuthenticator()))

		r.Get("/v1/sessions/me", func(w http.ResponseWriter, r *http.Request) {
			accountID, _ := AccountIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"account_id": accountID})
		})
	})

	t.Run("public route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
		if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
		}
		if got := w.Result().Header.Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q, want %q", got, "no-store")
		}
	})

	t.Run("protected route with token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/me", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(w.Result().Body).Decode(&body)
		if body["account_id"] != "acct-123" {
			t.Errorf("account_id = %q, want %q", body["account_id"], "acct-123")
		}
	})

	t.Run("protected route without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/me", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("panic is recovered", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
		}
		if w.Result().Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", w.Result().Header.Get("Content-Type"))
		}
	})

	mc.mu.Lock()
	defer mc.mu.Unlock()
	want := []int{200, 200, 401}
	if len(mc.statuses) < len(want) {
		t.Fatalf("recorded statuses = %v, want at least %v", mc.statuses, want)
	}
	for i, code := range want {
		if mc.statuses[i] != code {
			t.Errorf("statuses[%d] = %d, want %d", i, mc.statuses[i], code)
		}
	}
}
