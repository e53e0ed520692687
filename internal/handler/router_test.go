package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/latework/internal/auth"
	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/course"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/middleware"
	"github.com/hitoshi/latework/internal/model"
)

// tokenAuthenticator はトークンをユーザーIDとみなすAuthenticator。
type tokenAuthenticator struct{}

func (tokenAuthenticator) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if token == "invalid" {
		return nil, model.NewUnauthorizedError()
	}
	return &model.Session{ID: "s-" + token, UserID: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type staticAdminChecker map[string]bool

func (c staticAdminChecker) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return c[userID], nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func newTestRouter(t *testing.T, db Pinger) http.Handler {
	t.Helper()

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	return NewRouter(&RouterDeps{
		Authenticator:     tokenAuthenticator{},
		AdminChecker:      staticAdminChecker{"admin-1": true},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		StatusObserver:    collector,
		AuthService: &mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*auth.SignedIn, error) {
				return nil, model.NewInvalidCredentialsError()
			},
		},
		Catalog: &mockCatalogReader{
			listCoursesFn: func(ctx context.Context, query string) (*catalog.Listing, error) {
				return &catalog.Listing{Courses: []model.Course{{ID: "c1"}}}, nil
			},
		},
		Enrollment: &mockEnrollmentService{},
		CourseAdmin: &mockCourseAdmin{
			createCourseFn: func(ctx context.Context, in course.CourseInput) (*model.Course, error) {
				return &model.Course{ID: "new", Name: in.Name}, nil
			},
		},
		UserService: &mockUserService{},
		DB:          db,
		Gatherer:    reg,
	})
}

func serve(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_APIRequiresSession(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"トークンなし", "", http.StatusUnauthorized},
		{"無効なトークン", "invalid", http.StatusUnauthorized},
		{"有効なトークン", "u1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodGet, "/api/courses", tt.token, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	router := newTestRouter(t, nil)
	body := `{"name":"新コース","description":"d","level":"初級","duration":"1h","pic":"https://example.com/a.png"}`

	rec := serve(router, http.MethodPost, "/api/admin/courses", "u1", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = serve(router, http.MethodPost, "/api/admin/courses", "admin-1", body)
	if rec.Code != http.StatusCreated {
		t.Errorf("admin status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestRouter_ImageRoutesDisabledWithoutStore(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := serve(router, http.MethodPost, "/api/admin/images/import", "admin-1", `{"url":"https://example.com/a.png"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRouter_AuthRoutesArePublic(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := serve(router, http.MethodPost, "/auth/signin", "", `{"email":"a@example.com","password":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if resp := parseAPIErrorResponse(t, rec); resp.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeInvalidCredentials)
	}

	rec = serve(router, http.MethodGet, "/auth/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/auth/me without token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRouter_Health(t *testing.T) {
	rec := serve(newTestRouter(t, stubPinger{}), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = serve(newTestRouter(t, stubPinger{err: errors.New("down")}), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsExposeHTTPStatus(t *testing.T) {
	router := newTestRouter(t, nil)
	serve(router, http.MethodGet, "/api/courses", "", "")

	rec := serve(router, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `status_code="401"`) {
		t.Errorf("metrics should include the recorded 401, got:\n%s", rec.Body.String())
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/courses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
