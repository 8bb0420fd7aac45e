package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tempo/internal/kv"
)

const sessionPrefix = "sessions/"

// SessionTTL is the default lifetime of a browser session.
const SessionTTL = 7 * 24 * time.Hour

// Session is an authenticated browser session bound to a user and the
// provider that signed them in. The opaque id travels in a cookie; this type
// never touches transport concerns.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionManager issues, retrieves and revokes sessions in the key-value
// store.
type SessionManager struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager creates a SessionManager. A zero ttl falls back to
// SessionTTL.
func NewSessionManager(store kv.Store, ttl time.Duration) *SessionManager {
	if ttl == 0 {
		ttl = SessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, now: time.Now}
}

// Create issues a new session for userID.
func (m *SessionManager) Create(ctx context.Context, userID, provider string) (Session, error) {
	id, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	now := m.now().UTC()
	session := Session{
		ID:        id,
		UserID:    userID,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return Session{}, fmt.Errorf("marshal session: %w", err)
	}
	// The store TTL matches ExpiresAt so an expired session is never
	// returned even if the TTL sweep lags; Get re-checks regardless.
	if err := m.store.Set(ctx, sessionPrefix+id, raw, m.ttl); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}

	return session, nil
}

// Get returns the session for id, or nil when absent or expired. Absence is
// not an error; it signals "not authenticated".
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	entry, found, err := m.store.Get(ctx, sessionPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}

	var session Session
	if err := json.Unmarshal(entry.Value, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	if m.now().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, sessionPrefix+id)
		return nil, nil
	}

	return &session, nil
}

// Delete revokes a session. Deleting an absent id is not an error.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, sessionPrefix+id)
}
