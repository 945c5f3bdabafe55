package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Morstis/hasura-auth/internal/auth"
)

// tokenRequest is the body of POST /token and POST /signout
type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Token rotates a refresh token into a new session: a signed access token
// plus a replacement refresh token. The presented token is consumed whether
// or not the exchange succeeds afterwards.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "request body must be JSON with a refreshToken field"))
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "refreshToken is required"))
		return
	}

	session, err := h.tokens.Exchange(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, session)
}

// SignOut revokes a refresh token. Revoking a token that no longer exists
// succeeds; the end state is the same.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "request body must be JSON with a refreshToken field"))
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "refreshToken is required"))
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
