package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"tempo/internal/auth"
	"tempo/internal/kv"
	"tempo/internal/tracker"
)

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	// Must start with / but not //
	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	// Parse as URL to ensure no scheme or host
	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	if parsed.Scheme != "" || parsed.Host != "" {
		return false
	}

	return true
}

type oauthFlow interface {
	CreateAuthRequest(ctx context.Context, provider, redirectURL string) (string, error)
	HandleCallback(ctx context.Context, provider, code, state string) (auth.GrantedSession, string, error)
}

type sessionIssuer interface {
	Create(ctx context.Context, userID, provider string) (auth.Session, error)
	Delete(ctx context.Context, id string) error
}

// OAuthHandler handles the sign-in endpoints for every configured provider.
type OAuthHandler struct {
	flow         oauthFlow
	sessions     sessionIssuer
	store        kv.Store
	providers    []string
	logger       *slog.Logger
	secureCookie bool
}

// NewOAuthHandler creates a new OAuthHandler. providers is the list of
// registered provider names exposed on the discovery endpoint.
func NewOAuthHandler(flow oauthFlow, sessions sessionIssuer, store kv.Store, providers []string, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		flow:         flow,
		sessions:     sessions,
		store:        store,
		providers:    providers,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
	}
}

// Providers handles GET /auth/providers and lists the configured sign-in
// options so the login page can render its buttons.
func (h *OAuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.providers})
}

// Login handles GET /auth/{provider}
// Redirects the user to the provider's consent screen.
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	redirectTo := "/"
	if raw := r.URL.Query().Get("redirect"); raw != "" && isValidRedirectPath(raw) {
		redirectTo = raw
	}

	authURL, err := h.flow.CreateAuthRequest(r.Context(), provider, redirectTo)
	if err != nil {
		if errors.Is(err, auth.ErrUnsupportedProvider) {
			writeError(w, http.StatusBadRequest, "unsupported provider")
			return
		}
		h.logger.Error("oauth login: create auth request failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/callback/{provider}
// Exchanges the authorization code for tokens, creates the user on first
// sign-in, and issues a session.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "provider", provider, "error", errParam)
		h.redirectWithError(w, r, errParam)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	grant, redirectTo, err := h.flow.HandleCallback(r.Context(), provider, code, state)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnsupportedProvider):
			writeError(w, http.StatusBadRequest, "unsupported provider")
		case errors.Is(err, auth.ErrInvalidState):
			h.logger.Warn("oauth callback: invalid state", "provider", provider)
			h.redirectWithError(w, r, "invalid_state")
		case errors.Is(err, auth.ErrUpstream):
			h.logger.Error("oauth callback: upstream failure", "provider", provider, "error", err)
			h.redirectWithError(w, r, "exchange_error")
		default:
			h.logger.Error("oauth callback failed", "provider", provider, "error", err)
			h.redirectWithError(w, r, "internal_error")
		}
		return
	}

	// First sign-in creates the user record; later logins find it in place.
	_, err = tracker.CreateUser(r.Context(), h.store, tracker.User{
		ID:    grant.UserID,
		Email: grant.Email,
		Name:  grant.Name,
	})
	if err != nil && !errors.Is(err, tracker.ErrUserExists) {
		h.logger.Error("oauth callback: user creation failed", "error", err)
		h.redirectWithError(w, r, "internal_error")
		return
	}

	session, err := h.sessions.Create(r.Context(), grant.UserID, grant.Provider)
	if err != nil {
		h.logger.Error("oauth callback: session creation failed", "error", err)
		h.redirectWithError(w, r, "internal_error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionCookieTTL.Seconds()),
	})

	h.logger.Info("oauth login successful", "user_id", grant.UserID, "provider", grant.Provider)

	if !isValidRedirectPath(redirectTo) {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusTemporaryRedirect)
}

// Logout handles GET /auth/logout
// Revokes the current session and clears the cookie. Safe to call without a
// session.
func (h *OAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout: session deletion failed", "error", err)
		}
	}

	clearSessionCookie(w, h.secureCookie)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// redirectWithError redirects to the login page with an error code.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusTemporaryRedirect)
}
