package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/latework/internal/middleware"
	"github.com/hitoshi/latework/internal/model"
)

// withSession はテスト用にセッションをコンテキストに設定する。
func withSession(r *http.Request, userID string) *http.Request {
	session := &model.Session{
		ID:        "sess-" + userID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return r.WithContext(middleware.ContextWithSession(r.Context(), session))
}

// withChiURLParams はchiのURLパラメータをリクエストに設定する。
func withChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディをAPIエラーとしてデコードする。
func parseAPIErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) apiErrorResponse {
	t.Helper()
	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}
