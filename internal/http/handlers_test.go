package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"tempo/internal/auth"
	"tempo/internal/kv"
	"tempo/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// authedRequest builds a request whose context carries a session for userID,
// as the session middleware would have done.
func authedRequest(t *testing.T, method, target string, body any, userID string) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	session := &auth.Session{
		ID:        "test-session",
		UserID:    userID,
		Provider:  "google",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	return req.WithContext(context.WithValue(req.Context(), sessionContextKey, session))
}

// newUserStore seeds a user record and returns the backing store.
func newUserStore(t *testing.T, userID string) kv.Store {
	t.Helper()
	store := kv.NewMemoryStore()
	if _, err := tracker.CreateUser(context.Background(), store, tracker.User{ID: userID}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return store
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func TestHandleTrackerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"project not found", tracker.ErrProjectNotFound, http.StatusNotFound},
		{"entry not found", tracker.ErrEntryNotFound, http.StatusNotFound},
		{"no active entry", tracker.ErrNoActiveEntry, http.StatusNotFound},
		{"active entry exists", tracker.ErrActiveEntryExists, http.StatusConflict},
		{"user exists", tracker.ErrUserExists, http.StatusConflict},
		{"tx conflict", kv.ErrTxConflict, http.StatusConflict},
		{"validation", &tracker.ValidationError{Message: "name is required"}, http.StatusBadRequest},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleTrackerError(rec, tc.err, testLogger())
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}

			var payload map[string]string
			decodeResponse(t, rec, &payload)
			if payload["error"] == "" {
				t.Fatal("expected error message in body")
			}
		})
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"bogus":true}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Name string `json:"name"`
	}
	if err := decodeJSONBody(rec, req, &dst); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
