package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/flowstate"
	"github.com/Morstis/hasura-auth/internal/auth/providers"
	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/domain/services"
	"github.com/Morstis/hasura-auth/server/internal/session"
)

// Handler holds dependencies for all HTTP handlers
type Handler struct {
	cfg      *config.Config
	registry *providers.Registry
	flows    flowstate.Store
	accounts *services.AccountService
	tokens   *services.TokenService
	webauthn *services.WebAuthnService
	sessions *session.Manager
	db       repositories.HealthChecker
	log      *slog.Logger
}

// New creates a handler with its dependencies. webauthn may be nil when the
// feature is disabled; its endpoints then answer disabled-endpoint.
func New(cfg *config.Config, registry *providers.Registry, flows flowstate.Store, accounts *services.AccountService, tokens *services.TokenService, webauthn *services.WebAuthnService, sessions *session.Manager, db repositories.HealthChecker) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		flows:    flows,
		accounts: accounts,
		tokens:   tokens,
		webauthn: webauthn,
		sessions: sessions,
		db:       db,
		log:      slog.Default().With(slog.String("component", "handlers")),
	}
}

// errorResponse is the JSON error envelope
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v as a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps err to the JSON error envelope. Unexpected errors are
// logged in full and surfaced as internal-error with the message only.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	authErr := auth.AsError(err)
	if authErr.Code == auth.ErrCodeInternalError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, authErr.HTTPStatus(), errorResponse{
		Error:   string(authErr.Code),
		Message: authErr.Message,
	})
}

// redirectError sends the browser back to the client with error details in
// the query, the redirect flow's error surface. Never a raw 500.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectTo, provider string, err error) {
	authErr := auth.AsError(err)
	if authErr.Code == auth.ErrCodeInternalError {
		h.log.Error("sign-in flow failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()))
	}
	h.redirectWithError(w, r, redirectTo, string(authErr.Code), authErr.Message, provider)
}

// redirectWithError carries an error code and description back to the client
// as query parameters. Used directly when passing a provider's own error
// through untranslated.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectTo, code, description, provider string) {
	target, err := url.Parse(h.validateRedirectTo(redirectTo))
	if err != nil {
		target, _ = url.Parse(h.cfg.Auth.ClientURL)
	}

	q := target.Query()
	q.Set("error", code)
	q.Set("errorDescription", description)
	if provider != "" {
		q.Set("provider", provider)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// validateRedirectTo returns raw if it is on the configured allow-list, else
// the default client URL. The client URL itself is always allowed.
func (h *Handler) validateRedirectTo(raw string) string {
	if raw == "" {
		return h.cfg.Auth.ClientURL
	}
	if matchesAllowedURL(raw, h.cfg.Auth.ClientURL) {
		return raw
	}
	for _, allowed := range h.cfg.Auth.AllowedRedirectURLs {
		if matchesAllowedURL(raw, allowed) {
			return raw
		}
	}

	h.log.Warn("redirect target not on allow-list, using client url",
		slog.String("redirect_to", raw))
	return h.cfg.Auth.ClientURL
}

// matchesAllowedURL reports whether raw is the allowed URL or a path under it
func matchesAllowedURL(raw, allowed string) bool {
	if allowed == "" {
		return false
	}
	if raw == allowed {
		return true
	}
	return strings.HasPrefix(raw, strings.TrimSuffix(allowed, "/")+"/")
}

// callbackURL builds the provider-facing redirect URL for a provider from
// the configured public URL
func (h *Handler) callbackURL(providerID string) string {
	return strings.TrimSuffix(h.cfg.Server.PublicURL, "/") + "/signin/provider/" + providerID + "/callback"
}
