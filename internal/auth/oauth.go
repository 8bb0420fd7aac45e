package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"tempo/internal/kv"
)

const (
	statePrefix = "oauth/state/"
	grantPrefix = "oauth/grant/"

	// StateTTL bounds how long an authorization request may sit between the
	// redirect to the provider and the callback.
	StateTTL = 10 * time.Minute

	// GrantTTL matches the session lifetime so provider tokens outlive the
	// session they back.
	GrantTTL = 7 * 24 * time.Hour
)

// ErrInvalidState is returned when a callback's state token has no stored
// record. Expiry, replay and forgery all collapse into this error.
var ErrInvalidState = errors.New("invalid oauth state")

// ErrUpstream is returned when the provider's token or user-info endpoint
// fails or answers with an unexpected shape.
var ErrUpstream = errors.New("oauth provider request failed")

// State is the transient server-side record tying an eventual callback to
// the request that initiated it.
type State struct {
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"codeVerifier"`
	RedirectURL  string    `json:"redirectUrl"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GrantedSession holds the provider tokens and normalized identity obtained
// for a user. It is distinct from the browser Session issued afterwards.
type GrantedSession struct {
	UserID       string    `json:"userId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
}

// Flow drives the authorization-code-with-PKCE exchange against a provider
// registry, persisting transient state in the key-value store.
type Flow struct {
	store    kv.Store
	registry *Registry
	client   *http.Client
}

// NewFlow wires a Flow. client may be nil, in which case a timeout-bounded
// default is used for all outbound provider calls.
func NewFlow(store kv.Store, registry *Registry, client *http.Client) *Flow {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Flow{store: store, registry: registry, client: client}
}

// randomToken generates a cryptographically secure URL-safe token.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateAuthRequest builds the provider authorization URL for a new login
// attempt and persists the matching state record with a 10-minute TTL.
func (f *Flow) CreateAuthRequest(ctx context.Context, providerName, redirectURL string) (string, error) {
	provider, err := f.registry.Lookup(providerName)
	if err != nil {
		return "", err
	}

	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	record := State{
		Provider:     provider.Name,
		CodeVerifier: verifier,
		RedirectURL:  redirectURL,
		CreatedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal oauth state: %w", err)
	}
	if err := f.store.Set(ctx, statePrefix+state, raw, StateTTL); err != nil {
		return "", fmt.Errorf("persist oauth state: %w", err)
	}

	return provider.Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// HandleCallback completes the flow for a provider callback: it validates and
// consumes the state record, exchanges the code using the stored PKCE
// verifier, fetches and normalizes the provider's user info, and persists a
// GrantedSession keyed by the provider user id. The second return value is
// the redirect URL captured when the flow started.
//
// The state record is deleted as soon as it is loaded; a failed exchange must
// not leave the state replayable.
func (f *Flow) HandleCallback(ctx context.Context, providerName, code, state string) (GrantedSession, string, error) {
	provider, err := f.registry.Lookup(providerName)
	if err != nil {
		return GrantedSession{}, "", err
	}

	entry, found, err := f.store.Get(ctx, statePrefix+state)
	if err != nil {
		return GrantedSession{}, "", fmt.Errorf("load oauth state: %w", err)
	}
	if !found {
		return GrantedSession{}, "", ErrInvalidState
	}
	if err := f.store.Delete(ctx, statePrefix+state); err != nil {
		return GrantedSession{}, "", fmt.Errorf("consume oauth state: %w", err)
	}

	var record State
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return GrantedSession{}, "", fmt.Errorf("decode oauth state: %w", err)
	}
	if record.Provider != provider.Name {
		return GrantedSession{}, "", ErrInvalidState
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)

	token, err := provider.Config.Exchange(ctx, code, oauth2.VerifierOption(record.CodeVerifier))
	if err != nil {
		return GrantedSession{}, "", fmt.Errorf("%w: token exchange with %s: %v", ErrUpstream, provider.Name, err)
	}

	info, err := f.fetchUserInfo(ctx, provider, token)
	if err != nil {
		return GrantedSession{}, "", err
	}

	grant := GrantedSession{
		UserID:       info.ID,
		Provider:     provider.Name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Email:        info.Email,
		Name:         info.Name,
	}

	raw, err := json.Marshal(grant)
	if err != nil {
		return GrantedSession{}, "", fmt.Errorf("marshal granted session: %w", err)
	}
	if err := f.store.Set(ctx, grantPrefix+grant.UserID, raw, GrantTTL); err != nil {
		return GrantedSession{}, "", fmt.Errorf("persist granted session: %w", err)
	}

	return grant, record.RedirectURL, nil
}

func (f *Flow) fetchUserInfo(ctx context.Context, provider *Provider, token *oauth2.Token) (UserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	resp, err := client.Get(provider.UserInfoURL)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: user info from %s: %v", ErrUpstream, provider.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: read user info from %s: %v", ErrUpstream, provider.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("%w: user info from %s: status %d", ErrUpstream, provider.Name, resp.StatusCode)
	}

	info, err := provider.parseUserInfo(body)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return info, nil
}
