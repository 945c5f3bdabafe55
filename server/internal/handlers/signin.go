package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/flowstate"
	"github.com/Morstis/hasura-auth/internal/domain/services"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// exchangeTimeout bounds the authorization code exchange against the
// provider's token endpoint.
const exchangeTimeout = 10 * time.Second

// SignIn initiates the redirect flow: it validates the provider, captures
// the caller's options into a new flow, and sends the browser to the
// provider's consent page with state and an S256 PKCE challenge.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	redirectTo := h.validateRedirectTo(r.URL.Query().Get("redirectTo"))

	provider, err := h.registry.Get(providerID)
	if err != nil {
		metrics.RecordSignIn(providerID, "oauth", string(auth.ErrCodeDisabledEndpoint))
		h.redirectError(w, r, redirectTo, providerID,
			auth.NewError(auth.ErrCodeDisabledEndpoint, "provider is not enabled"))
		return
	}
	if !provider.Configured() {
		metrics.RecordSignIn(providerID, "oauth", string(auth.ErrCodeInvalidOAuthConfiguration))
		h.redirectError(w, r, redirectTo, providerID,
			auth.NewError(auth.ErrCodeInvalidOAuthConfiguration, "provider credentials are not configured"))
		return
	}

	flowID, err := flowstate.NewID()
	if err != nil {
		h.redirectError(w, r, redirectTo, providerID, err)
		return
	}

	// The verifier and state stay server-side in the flow; only the opaque
	// flow id travels in the cookie.
	verifier := oauth2.GenerateVerifier()
	state := generateState()

	now := time.Now()
	flow := &flowstate.FlowState{
		ID:           flowID,
		Provider:     providerID,
		RedirectTo:   redirectTo,
		State:        state,
		CodeVerifier: verifier,
		Options:      captureOptions(r),
		CreatedAt:    now,
		ExpiresAt:    now.Add(h.cfg.Auth.FlowLifetime()),
	}
	if err := h.flows.Put(r.Context(), flow); err != nil {
		h.redirectError(w, r, redirectTo, providerID, err)
		return
	}
	if err := h.sessions.SetFlowID(r, w, flowID); err != nil {
		h.redirectError(w, r, redirectTo, providerID, err)
		return
	}

	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)},
		provider.AuthCodeOptions()...)
	authURL := provider.OAuthConfig(h.callbackURL(providerID)).AuthCodeURL(state, opts...)

	h.log.Debug("starting sign-in flow",
		slog.String("provider", providerID),
		slog.String("redirect_to", redirectTo))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the redirect flow. The flow state is taken (read and
// destroyed) and the cookie cleared before any classification, so a replayed
// or duplicated callback finds nothing and fails closed.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]

	flowID, cookieErr := h.sessions.FlowID(r)
	if err := h.sessions.Clear(r, w); err != nil {
		// Best effort; the flow itself is already being destroyed.
	}
	if cookieErr != nil {
		metrics.RecordSignIn(providerID, "oauth", string(auth.ErrCodeInvalidRequest))
		h.redirectError(w, r, "", providerID,
			auth.NewError(auth.ErrCodeInvalidRequest, "no sign-in flow in progress"))
		return
	}

	flow, err := h.flows.Take(r.Context(), flowID)
	if err != nil {
		metrics.RecordSignIn(providerID, "oauth", string(auth.ErrCodeInvalidRequest))
		h.redirectError(w, r, "", providerID,
			auth.NewError(auth.ErrCodeInvalidRequest, "sign-in flow expired or already completed"))
		return
	}
	redirectTo := flow.RedirectTo

	// The provider reported an error of its own (consent denied and the
	// like); pass its code and description through untranslated.
	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		metrics.RecordSignIn(flow.Provider, "oauth", providerErr)
		h.redirectWithError(w, r, redirectTo, providerErr,
			r.URL.Query().Get("error_description"), flow.Provider)
		return
	}

	if flow.Provider != providerID {
		metrics.RecordSignIn(providerID, "oauth", string(auth.ErrCodeInvalidRequest))
		h.redirectError(w, r, redirectTo, providerID,
			auth.NewError(auth.ErrCodeInvalidRequest, "callback does not match the flow's provider"))
		return
	}
	if state := r.URL.Query().Get("state"); state == "" || state != flow.State {
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeInvalidRequest))
		h.redirectError(w, r, redirectTo, flow.Provider,
			auth.NewError(auth.ErrCodeInvalidRequest, "state parameter mismatch"))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeInvalidRequest))
		h.redirectError(w, r, redirectTo, flow.Provider,
			auth.NewError(auth.ErrCodeInvalidRequest, "missing authorization code"))
		return
	}

	provider, err := h.registry.Get(flow.Provider)
	if err != nil {
		// The provider was removed from config while the flow was in flight.
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeDisabledEndpoint))
		h.redirectError(w, r, redirectTo, flow.Provider,
			auth.NewError(auth.ErrCodeDisabledEndpoint, "provider is not enabled"))
		return
	}

	exchangeCtx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()
	token, err := provider.OAuthConfig(h.callbackURL(flow.Provider)).
		Exchange(exchangeCtx, code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		h.log.Error("authorization code exchange failed",
			slog.String("provider", flow.Provider),
			slog.String("error", err.Error()))
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeInternalError))
		h.redirectError(w, r, redirectTo, flow.Provider,
			auth.NewError(auth.ErrCodeInternalError, "failed to exchange authorization code"))
		return
	}

	profile, err := provider.FetchProfile(r.Context(), token.AccessToken)
	if err != nil {
		h.log.Error("profile fetch failed",
			slog.String("provider", flow.Provider),
			slog.String("error", err.Error()))
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeInternalError))
		h.redirectError(w, r, redirectTo, flow.Provider,
			auth.NewError(auth.ErrCodeInternalError, "failed to fetch user profile"))
		return
	}

	user, _, err := h.accounts.Resolve(r.Context(), flow.Provider, profile,
		services.ProviderTokens{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken},
		signUpOptions(flow.Options))
	if err != nil {
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.AsError(err).Code))
		h.redirectError(w, r, redirectTo, flow.Provider, err)
		return
	}

	refreshToken, err := h.tokens.IssueRefreshToken(r.Context(), user.ID)
	if err != nil {
		metrics.RecordSignIn(flow.Provider, "oauth", string(auth.ErrCodeInternalError))
		h.redirectError(w, r, redirectTo, flow.Provider, err)
		return
	}

	metrics.RecordSignIn(flow.Provider, "oauth", "success")

	target, err := url.Parse(redirectTo)
	if err != nil {
		target, _ = url.Parse(h.cfg.Auth.ClientURL)
	}
	q := target.Query()
	q.Set("refreshToken", refreshToken)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// captureOptions extracts the caller's registration options from the query.
// They are stored exactly as supplied; defaulting and policy checks happen
// at account resolution, not here.
func captureOptions(r *http.Request) flowstate.Options {
	q := r.URL.Query()

	var opts flowstate.Options
	if v := q.Get("displayName"); v != "" {
		opts.DisplayName = &v
	}
	if v := q.Get("locale"); v != "" {
		opts.Locale = &v
	}
	if v := q.Get("defaultRole"); v != "" {
		opts.DefaultRole = &v
	}
	if roles, ok := q["allowedRoles"]; ok {
		opts.AllowedRoles = roles
	}
	if v := q.Get("metadata"); v != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(v), &meta); err == nil {
			opts.Metadata = meta
		}
	}
	return opts
}

// signUpOptions converts captured flow options into resolution options
func signUpOptions(o flowstate.Options) services.SignUpOptions {
	return services.SignUpOptions{
		DisplayName:  o.DisplayName,
		Locale:       o.Locale,
		DefaultRole:  o.DefaultRole,
		AllowedRoles: o.AllowedRoles,
		Metadata:     o.Metadata,
	}
}

// generateState returns a crypto-random OAuth state value
func generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
