package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/latework/internal/model"
)

// mockAuthenticator はトークン文字列をキーにセッションを返すテスト用実装。
type mockAuthenticator struct {
	sessions map[string]*model.Session
	err      error
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.sessions[token]; ok {
		return s, nil
	}
	return nil, model.NewUnauthorizedError()
}

type mockAdminChecker struct {
	admins map[string]bool
	err    error
}

func (m *mockAdminChecker) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return m.admins[userID], m.err
}

func newTestAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{sessions: map[string]*model.Session{
		"valid-token": {ID: "s1", UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)},
		"admin-token": {ID: "s2", UserID: "admin-1", ExpiresAt: time.Now().Add(time.Hour)},
	}}
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

func TestSessionMiddleware_ValidBearer_InjectsSession(t *testing.T) {
	var gotUserID string
	var gotSession *model.Session
	handler := NewSessionMiddleware(newTestAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		gotSession, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me/courses", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q", gotUserID)
	}
	if gotSession == nil || gotSession.ID != "s1" {
		t.Errorf("session = %+v", gotSession)
	}
}

func TestSessionMiddleware_AccessTokenQuery(t *testing.T) {
	called := false
	handler := NewSessionMiddleware(newTestAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stream/courses?access_token=valid-token", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called with a query token")
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
	}{
		{"トークンなし", "", "/api/test"},
		{"不明なトークン", "Bearer unknown", "/api/test"},
		{"Bearer以外のスキーム", "Basic dXNlcjpwYXNz", "/api/test?access_token=valid-token"},
		{"空のBearer", "Bearer ", "/api/test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(newTestAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if code := decodeErrorCode(t, w); code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q", code)
			}
		})
	}
}

func TestSessionMiddleware_StoreError_Returns500(t *testing.T) {
	auth := &mockAuthenticator{err: errors.New("connection refused")}
	handler := NewSessionMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestAdminMiddleware(t *testing.T) {
	checker := &mockAdminChecker{admins: map[string]bool{"admin-1": true}}

	r := chi.NewRouter()
	r.Use(NewSessionMiddleware(newTestAuthenticator()))
	r.With(NewAdminMiddleware(checker)).Post("/api/admin/courses", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"管理者", "admin-token", http.StatusCreated},
		{"一般ユーザー", "valid-token", http.StatusForbidden},
		{"未認証", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/courses", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminMiddleware_CheckerError(t *testing.T) {
	checker := &mockAdminChecker{err: errors.New("db down")}
	handler := NewAdminMiddleware(checker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/courses", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "admin-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing user id")
	}
}

func TestContextWithSession_SetsUserID(t *testing.T) {
	ctx := ContextWithSession(context.Background(), &model.Session{ID: "s1", UserID: "u1"})

	userID, err := UserIDFromContext(ctx)
	if err != nil || userID != "u1" {
		t.Errorf("userID = %q, err = %v", userID, err)
	}
	if s, ok := SessionFromContext(ctx); !ok || s.ID != "s1" {
		t.Errorf("session = %+v, ok = %v", s, ok)
	}
}
