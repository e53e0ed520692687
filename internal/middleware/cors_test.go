package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(t *testing.T, allowed, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	h := NewCORSMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/courses", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, called
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000", http.MethodGet, "http://localhost:3000", false)

	if !called {
		t.Fatal("next handler should be called")
	}
	for header, want := range map[string]string{
		"Access-Control-Allow-Origin":  "http://localhost:3000",
		"Access-Control-Allow-Methods": corsAllowMethods,
		"Access-Control-Allow-Headers": "Authorization, Content-Type",
		"Vary":                         "Origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSMiddleware_ForeignOriginGetsNoHeaders(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000", http.MethodGet, "https://evil.example.com", false)

	if !called {
		t.Error("request should still reach the handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000", http.MethodOptions, "http://localhost:3000", true)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("next handler should not be called for preflight")
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != corsMaxAge {
		t.Errorf("Access-Control-Max-Age = %q", got)
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	w, _ := serveCORS(t, "*", http.MethodPost, "https://any.example.com", false)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://any.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
