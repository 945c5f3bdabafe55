package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/providers"
	"github.com/Morstis/hasura-auth/internal/domain/services"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// nativeTokenRequest is the body of POST /native/token
type nativeTokenRequest struct {
	AccessToken string `json:"access_token"`
}

// refreshTokenResponse carries a freshly minted refresh token
type refreshTokenResponse struct {
	RefreshToken string `json:"refreshToken"`
}

// NativeToken exchanges a provider access token obtained by a trusted native
// client for an application refresh token. There is no flow state: the token
// is verified against the provider's identity endpoint in a single request,
// and resolution follows the same path as the redirect flow.
func (h *Handler) NativeToken(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Native.Enabled {
		h.writeError(w, auth.NewError(auth.ErrCodeDisabledEndpoint, "native sign-in is not enabled"))
		return
	}

	var req nativeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "request body must be JSON with an access_token field"))
		return
	}
	if req.AccessToken == "" {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "access_token is required"))
		return
	}

	providerID := h.cfg.Native.Provider
	provider, err := h.registry.Get(providerID)
	if err != nil {
		metrics.RecordSignIn(providerID, "native", string(auth.ErrCodeDisabledEndpoint))
		h.writeError(w, auth.NewError(auth.ErrCodeDisabledEndpoint, "native sign-in provider is not enabled"))
		return
	}

	profile, err := provider.FetchProfile(r.Context(), req.AccessToken)
	if err != nil {
		// The provider rejected the token: its own error payload goes back
		// unchanged, and no account lookup happens.
		var apiErr *providers.APIError
		if errors.As(err, &apiErr) {
			metrics.RecordSignIn(providerID, "native", "provider-rejected")
			h.writeProviderError(w, apiErr)
			return
		}
		h.log.Error("profile fetch failed",
			slog.String("provider", providerID),
			slog.String("error", err.Error()))
		metrics.RecordSignIn(providerID, "native", string(auth.ErrCodeInternalError))
		h.writeError(w, auth.NewError(auth.ErrCodeInternalError, "failed to fetch user profile"))
		return
	}

	// Native clients hold the provider tokens themselves; only the access
	// token seen here is recorded on the link, never a refresh token.
	user, outcome, err := h.accounts.Resolve(r.Context(), providerID, profile,
		services.ProviderTokens{AccessToken: req.AccessToken}, services.SignUpOptions{})
	if err != nil {
		metrics.RecordSignIn(providerID, "native", string(auth.AsError(err).Code))
		h.writeError(w, err)
		return
	}

	refreshToken, err := h.tokens.IssueRefreshToken(r.Context(), user.ID)
	if err != nil {
		metrics.RecordSignIn(providerID, "native", string(auth.ErrCodeInternalError))
		h.writeError(w, err)
		return
	}

	metrics.RecordSignIn(providerID, "native", string(outcome))
	h.writeJSON(w, http.StatusOK, refreshTokenResponse{RefreshToken: refreshToken})
}

// writeProviderError forwards a provider's error payload verbatim. Provider
// statuses outside the error range map to 400 so a success status can never
// accompany an error body.
func (h *Handler) writeProviderError(w http.ResponseWriter, apiErr *providers.APIError) {
	status := apiErr.StatusCode
	if status < 400 || status > 599 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(apiErr.Body); err != nil {
		h.log.Error("failed to write provider error", slog.String("error", err.Error()))
	}
}
