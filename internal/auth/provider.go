package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"tempo/internal/config"
)

// ErrUnsupportedProvider is returned when a provider name is not in the
// configured registry.
var ErrUnsupportedProvider = errors.New("unsupported oauth provider")

// UserInfo is the provider-independent identity extracted from a user-info
// response.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Provider couples a provider's oauth2 client configuration with its
// user-info endpoint and the function that maps its response shape onto
// UserInfo.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string

	parseUserInfo func([]byte) (UserInfo, error)
}

// Registry holds the known OAuth providers. It is built once at startup from
// explicit configuration and passed by reference; there is no process-wide
// provider state.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds the Google/GitHub/Twitter registry from the supplied
// configuration. Providers without client credentials are left out, so the
// login page never offers a sign-in that cannot complete.
func NewRegistry(cfg config.Config) *Registry {
	redirect := func(name string) string {
		return cfg.AppURL + "/auth/callback/" + name
	}

	r := &Registry{providers: make(map[string]*Provider)}

	if cfg.Google.Configured() {
		r.Register(&Provider{
			Name: "google",
			Config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				Endpoint:     google.Endpoint,
				RedirectURL:  redirect("google"),
				Scopes:       []string{"email", "profile"},
			},
			UserInfoURL:   "https://www.googleapis.com/oauth2/v2/userinfo",
			parseUserInfo: parseGoogleUserInfo,
		})
	}

	if cfg.GitHub.Configured() {
		r.Register(&Provider{
			Name: "github",
			Config: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				Endpoint:     github.Endpoint,
				RedirectURL:  redirect("github"),
				Scopes:       []string{"user:email"},
			},
			UserInfoURL:   "https://api.github.com/user",
			parseUserInfo: parseGitHubUserInfo,
		})
	}

	if cfg.Twitter.Configured() {
		r.Register(&Provider{
			Name: "twitter",
			Config: &oauth2.Config{
				ClientID:     cfg.Twitter.ClientID,
				ClientSecret: cfg.Twitter.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://twitter.com/i/oauth2/authorize",
					TokenURL: "https://api.twitter.com/2/oauth2/token",
				},
				RedirectURL: redirect("twitter"),
				Scopes:      []string{"tweet.read", "users.read"},
			},
			UserInfoURL:   "https://api.twitter.com/2/users/me",
			parseUserInfo: parseTwitterUserInfo,
		})
	}

	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p *Provider) {
	if r.providers == nil {
		r.providers = make(map[string]*Provider)
	}
	r.providers[p.Name] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseGoogleUserInfo(body []byte) (UserInfo, error) {
	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return UserInfo{}, fmt.Errorf("parse google user info: %w", err)
	}
	if payload.ID == "" {
		return UserInfo{}, fmt.Errorf("google user info missing id")
	}
	return UserInfo{ID: payload.ID, Email: payload.Email, Name: payload.Name}, nil
}

func parseGitHubUserInfo(body []byte) (UserInfo, error) {
	// GitHub user IDs are numeric; name may be unset, in which case the
	// login is used instead.
	var payload struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return UserInfo{}, fmt.Errorf("parse github user info: %w", err)
	}
	if payload.ID.String() == "" {
		return UserInfo{}, fmt.Errorf("github user info missing id")
	}
	name := payload.Name
	if name == "" {
		name = payload.Login
	}
	return UserInfo{ID: payload.ID.String(), Email: payload.Email, Name: name}, nil
}

func parseTwitterUserInfo(body []byte) (UserInfo, error) {
	// Twitter nests the user object under "data".
	var payload struct {
		Data struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return UserInfo{}, fmt.Errorf("parse twitter user info: %w", err)
	}
	if payload.Data.ID == "" {
		return UserInfo{}, fmt.Errorf("twitter user info missing id")
	}
	return UserInfo{ID: payload.Data.ID, Email: payload.Data.Email, Name: payload.Data.Name}, nil
}
