package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/flowstate"
	"github.com/Morstis/hasura-auth/internal/auth/providers"
	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/domain/services"
	"github.com/Morstis/hasura-auth/server/internal/session"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// fakeProvider is a scriptable identity provider. The token endpoint is the
// only part that needs a live server; tests point tokenURL at one when the
// callback path is exercised.
type fakeProvider struct {
	id         string
	configured bool
	authURL    string
	tokenURL   string
	profile    *providers.Profile
	fetchErr   error
	fetchCalls int
}

func newFakeProvider(id string) *fakeProvider {
	return &fakeProvider{
		id:         id,
		configured: true,
		authURL:    "https://provider.example.com/authorize",
		profile: &providers.Profile{
			ExternalID:    "42",
			Email:         "ada@example.com",
			EmailVerified: true,
			DisplayName:   "Ada Lovelace",
		},
	}
}

func (p *fakeProvider) ID() string       { return p.id }
func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint:     oauth2.Endpoint{AuthURL: p.authURL, TokenURL: p.tokenURL},
		RedirectURL:  redirectURL,
		Scopes:       []string{"identify"},
	}
}

func (p *fakeProvider) AuthCodeOptions() []oauth2.AuthCodeOption { return nil }

func (p *fakeProvider) FetchProfile(ctx context.Context, accessToken string) (*providers.Profile, error) {
	p.fetchCalls++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	clone := *p.profile
	return &clone, nil
}

var _ providers.Provider = (*fakeProvider)(nil)

type fakeHealthChecker struct {
	err error
}

func (f *fakeHealthChecker) HealthCheck(ctx context.Context) error { return f.err }

// fakeUserRepo is an in-memory UserRepository enforcing email uniqueness.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*entities.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*entities.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *entities.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.Email != "" {
		for _, existing := range f.users {
			if existing.Email == user.Email {
				return repositories.ErrAlreadyExists
			}
		}
	}
	if user.ID == "" {
		f.nextID++
		user.ID = fmt.Sprintf("user-%d", f.nextID)
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *entities.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return repositories.ErrUserNotFound
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) SetCurrentChallenge(_ context.Context, userID, challenge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.CurrentChallenge = challenge
	return nil
}

func (f *fakeUserRepo) UpdateLastSeen(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	now := time.Now()
	user.LastSeen = &now
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// challenge returns the stored WebAuthn challenge for a user.
func (f *fakeUserRepo) challenge(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		return user.CurrentChallenge
	}
	return ""
}

// fakeIdentityRepo is an in-memory IdentityRepository with the schema's
// uniqueness constraints.
type fakeIdentityRepo struct {
	mu     sync.Mutex
	links  map[string]*entities.Identity // provider:externalID
	nextID int
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{links: make(map[string]*entities.Identity)}
}

func linkKey(provider, externalID string) string {
	return provider + ":" + externalID
}

func (f *fakeIdentityRepo) Create(_ context.Context, identity *entities.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[linkKey(identity.Provider, identity.ExternalID)]; ok {
		return repositories.ErrAlreadyExists
	}
	for _, link := range f.links {
		if link.UserID == identity.UserID && link.Provider == identity.Provider {
			return repositories.ErrAlreadyExists
		}
	}
	if identity.ID == "" {
		f.nextID++
		identity.ID = fmt.Sprintf("link-%d", f.nextID)
	}
	now := time.Now()
	identity.CreatedAt, identity.UpdatedAt = now, now
	clone := *identity
	f.links[linkKey(identity.Provider, identity.ExternalID)] = &clone
	return nil
}

func (f *fakeIdentityRepo) GetByProviderAndExternalID(_ context.Context, provider, externalID string) (*entities.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[linkKey(provider, externalID)]
	if !ok {
		return nil, nil
	}
	clone := *link
	return &clone, nil
}

func (f *fakeIdentityRepo) ListByUserID(_ context.Context, userID string) ([]*entities.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Identity
	for _, link := range f.links {
		if link.UserID == userID {
			clone := *link
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeIdentityRepo) UpdateTokens(_ context.Context, identityID, accessToken, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.ID == identityID {
			link.AccessToken = accessToken
			link.RefreshToken = refreshToken
			link.UpdatedAt = time.Now()
			return nil
		}
	}
	return repositories.ErrIdentityNotFound
}

func (f *fakeIdentityRepo) Delete(_ context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, link := range f.links {
		if link.ID == identityID {
			delete(f.links, key)
			return nil
		}
	}
	return repositories.ErrIdentityNotFound
}

func (f *fakeIdentityRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

// fakeAuthenticatorRepo is an in-memory AuthenticatorRepository with a
// unique credential id constraint.
type fakeAuthenticatorRepo struct {
	mu          sync.Mutex
	credentials map[string]*entities.Authenticator
	nextID      int
}

func newFakeAuthenticatorRepo() *fakeAuthenticatorRepo {
	return &fakeAuthenticatorRepo{credentials: make(map[string]*entities.Authenticator)}
}

func (f *fakeAuthenticatorRepo) Create(_ context.Context, authenticator *entities.Authenticator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.credentials[authenticator.CredentialID]; ok {
		return repositories.ErrAlreadyExists
	}
	if authenticator.ID == "" {
		f.nextID++
		authenticator.ID = fmt.Sprintf("authn-%d", f.nextID)
	}
	authenticator.CreatedAt = time.Now()
	clone := *authenticator
	f.credentials[authenticator.CredentialID] = &clone
	return nil
}

func (f *fakeAuthenticatorRepo) ListByUserID(_ context.Context, userID string) ([]*entities.Authenticator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Authenticator
	for _, a := range f.credentials {
		if a.UserID == userID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeAuthenticatorRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, a := range f.credentials {
		if a.ID == id {
			delete(f.credentials, key)
			return nil
		}
	}
	return repositories.ErrAuthenticatorNotFound
}

// fakeRefreshTokenRepo is an in-memory RefreshTokenRepository.
type fakeRefreshTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*entities.RefreshToken
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{tokens: make(map[string]*entities.RefreshToken)}
}

func (f *fakeRefreshTokenRepo) Create(_ context.Context, token *entities.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	clone := *token
	f.tokens[token.Token] = &clone
	return nil
}

func (f *fakeRefreshTokenRepo) Consume(_ context.Context, token string) (*entities.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tokens[token]
	if !ok {
		return nil, repositories.ErrTokenNotFound
	}
	delete(f.tokens, token)
	clone := *stored
	return &clone, nil
}

func (f *fakeRefreshTokenRepo) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for value, token := range f.tokens {
		if token.ExpiresAt.Before(before) {
			delete(f.tokens, value)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ repositories.UserRepository          = (*fakeUserRepo)(nil)
	_ repositories.IdentityRepository      = (*fakeIdentityRepo)(nil)
	_ repositories.AuthenticatorRepository = (*fakeAuthenticatorRepo)(nil)
	_ repositories.RefreshTokenRepository  = (*fakeRefreshTokenRepo)(nil)
)

// testEnv wires real services over in-memory fakes, one fake provider, and
// the full route table, matching the production wiring.
type testEnv struct {
	cfg            *config.Config
	users          *fakeUserRepo
	identities     *fakeIdentityRepo
	authenticators *fakeAuthenticatorRepo
	refreshTokens  *fakeRefreshTokenRepo
	flows          *flowstate.MemoryStore
	registry       *providers.Registry
	provider       *fakeProvider
	tokenService   *services.TokenService
	health         *fakeHealthChecker
	handler        *Handler
	router         *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:      "127.0.0.1",
			Port:      4000,
			PublicURL: "http://auth.example.com",
		},
		Session: config.SessionConfig{Secret: "test-session-secret"},
		Auth: config.AuthConfig{
			JWT: config.JWTConfig{
				SigningKey: "test-signing-key-0123456789abcdef",
				ExpiresIn:  900,
				Issuer:     "hasura-auth-test",
			},
			RefreshTokenExpiresIn: 3600,
			FlowExpiresIn:         600,
			ClientURL:             "http://app.example.com",
			AllowedRedirectURLs:   []string{"http://other.example.com/landing"},
			DefaultLocale:         "en",
			AllowedLocales:        []string{"en", "de"},
			DefaultRole:           "user",
			AllowedRoles:          []string{"user", "editor"},
		},
		Native: config.NativeConfig{Enabled: true, Provider: "github"},
	}

	users := newFakeUserRepo()
	identities := newFakeIdentityRepo()
	authenticators := newFakeAuthenticatorRepo()
	refreshTokens := newFakeRefreshTokenRepo()

	flows := flowstate.NewMemoryStore()
	t.Cleanup(flows.Close)

	provider := newFakeProvider("github")
	registry := providers.NewRegistry()
	registry.Register(provider)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWT.SigningKey, cfg.Auth.AccessTokenLifetime(), cfg.Auth.JWT.Issuer)
	accountService := services.NewAccountService(users, identities, services.AccountConfig{
		DefaultLocale:  cfg.Auth.DefaultLocale,
		AllowedLocales: cfg.Auth.AllowedLocales,
		DefaultRole:    cfg.Auth.DefaultRole,
		AllowedRoles:   cfg.Auth.AllowedRoles,
	})
	tokenService := services.NewTokenService(refreshTokens, users, jwtManager, cfg.Auth.RefreshTokenLifetime())

	sessionManager, err := session.NewManager(cfg.Session.Secret, cfg.Auth.FlowExpiresIn, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	health := &fakeHealthChecker{}
	h := New(cfg, registry, flows, accountService, tokenService, nil, sessionManager, health)

	router := mux.NewRouter()
	router.HandleFunc("/signin/provider/{provider}", h.SignIn).Methods("GET")
	router.HandleFunc("/signin/provider/{provider}/callback", h.Callback).Methods("GET", "POST")
	router.HandleFunc("/native/token", h.NativeToken).Methods("POST")
	router.HandleFunc("/webauthn/register/options", h.WebAuthnRegisterOptions).Methods("POST")
	router.HandleFunc("/webauthn/register/verify", h.WebAuthnRegisterVerify).Methods("POST")
	router.HandleFunc("/token", h.Token).Methods("POST")
	router.HandleFunc("/signout", h.SignOut).Methods("POST")
	router.HandleFunc("/healthz", h.Health).Methods("GET")
	router.HandleFunc("/version", h.VersionInfo).Methods("GET")

	return &testEnv{
		cfg:            cfg,
		users:          users,
		identities:     identities,
		authenticators: authenticators,
		refreshTokens:  refreshTokens,
		flows:          flows,
		registry:       registry,
		provider:       provider,
		tokenService:   tokenService,
		health:         health,
		handler:        h,
		router:         router,
	}
}

// enableWebAuthn swaps in a real registration service against the env's fakes.
func (env *testEnv) enableWebAuthn(t *testing.T) {
	t.Helper()
	svc, err := services.NewWebAuthnService(config.WebAuthnConfig{
		Enabled:       true,
		RPID:          "localhost",
		RPDisplayName: "Test RP",
		RPOrigins:     []string{"http://localhost:3000"},
	}, env.users, env.authenticators)
	if err != nil {
		t.Fatalf("NewWebAuthnService() error = %v", err)
	}
	env.handler.webauthn = svc
}

func (env *testEnv) seedUser(t *testing.T, email string) *entities.User {
	t.Helper()
	user := &entities.User{
		Email:       email,
		DisplayName: "Seeded User",
		Locale:      "en",
		DefaultRole: "user",
		Roles:       []string{"user"},
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create(user) error = %v", err)
	}
	return user
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// decodeErrorResponse reads the JSON error envelope from a response.
func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// redirectQuery parses the query of a redirect's Location header.
func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	target := redirectLocation(t, rec)
	return target.Query()
}

func redirectLocation(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc := rec.Header().Get("Location")
	if loc == "" {
		t.Fatalf("redirect without Location header")
	}
	target, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("failed to parse Location %q: %v", loc, err)
	}
	return target
}

func TestValidateRedirectTo(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty falls back to client url", "", "http://app.example.com"},
		{"client url itself", "http://app.example.com", "http://app.example.com"},
		{"path under client url", "http://app.example.com/after", "http://app.example.com/after"},
		{"allow-listed url", "http://other.example.com/landing", "http://other.example.com/landing"},
		{"path under allow-listed url", "http://other.example.com/landing/next", "http://other.example.com/landing/next"},
		{"unlisted host rejected", "http://evil.example.com/x", "http://app.example.com"},
		{"prefix without separator rejected", "http://app.example.communist.example.org", "http://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.handler.validateRedirectTo(tt.raw); got != tt.want {
				t.Errorf("validateRedirectTo(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
