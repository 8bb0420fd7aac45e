package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tempo/internal/auth"
	"tempo/internal/kv"
)

func newTestSessionManager(t *testing.T) (*auth.SessionManager, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	return auth.NewSessionManager(store, time.Hour), store
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		if session == nil {
			http.Error(w, "no session in context", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddlewareRedirectsWithoutCookie(t *testing.T) {
	sessions, _ := newTestSessionManager(t)
	handler := newSessionMiddleware(sessions, false, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/projects/list", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/login" {
		t.Fatalf("expected redirect to /login, got %q", location)
	}
}

func TestSessionMiddlewareRedirectsOnUnknownSession(t *testing.T) {
	sessions, _ := newTestSessionManager(t)
	handler := newSessionMiddleware(sessions, false, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/projects/list", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	// The stale cookie must be cleared alongside the redirect.
	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected session cookie to be cleared")
	}
}

func TestSessionMiddlewarePassesValidSession(t *testing.T) {
	sessions, _ := newTestSessionManager(t)
	session, err := sessions.Create(context.Background(), "user-1", "google")
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	handler := newSessionMiddleware(sessions, false, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/projects/list", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
