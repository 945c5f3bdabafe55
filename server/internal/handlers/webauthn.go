package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// webauthnOptionsRequest is the body of POST /webauthn/register/options
type webauthnOptionsRequest struct {
	ID string `json:"id"`
}

// webauthnVerifyRequest is the body of POST /webauthn/register/verify.
// Credential is the authenticator's attestation response, kept raw for the
// verification layer to parse.
type webauthnVerifyRequest struct {
	ID         string          `json:"id"`
	Credential json.RawMessage `json:"credential"`
	Nickname   string          `json:"nickname"`
}

// WebAuthnRegisterOptions issues a registration challenge for a user. Any
// outstanding challenge is replaced; only one is live at a time.
func (h *Handler) WebAuthnRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if h.webauthn == nil {
		h.writeError(w, auth.NewError(auth.ErrCodeDisabledEndpoint, "webauthn is not enabled"))
		return
	}

	var req webauthnOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "request body must be JSON with an id field"))
		return
	}
	if req.ID == "" {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "id is required"))
		return
	}

	creation, err := h.webauthn.BeginRegistration(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, creation)
}

// WebAuthnRegisterVerify verifies an attestation response against the user's
// stored challenge, persists the new authenticator, and signs the user in.
func (h *Handler) WebAuthnRegisterVerify(w http.ResponseWriter, r *http.Request) {
	if h.webauthn == nil {
		h.writeError(w, auth.NewError(auth.ErrCodeDisabledEndpoint, "webauthn is not enabled"))
		return
	}

	var req webauthnVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "request body must be JSON with id and credential fields"))
		return
	}
	if req.ID == "" || len(req.Credential) == 0 {
		h.writeError(w, auth.NewError(auth.ErrCodeInvalidRequest, "id and credential are required"))
		return
	}

	user, err := h.webauthn.FinishRegistration(r.Context(), req.ID, req.Credential, req.Nickname)
	if err != nil {
		metrics.RecordSignIn("webauthn", "webauthn", string(auth.AsError(err).Code))
		h.writeError(w, err)
		return
	}

	refreshToken, err := h.tokens.IssueRefreshToken(r.Context(), user.ID)
	if err != nil {
		metrics.RecordSignIn("webauthn", "webauthn", string(auth.ErrCodeInternalError))
		h.writeError(w, err)
		return
	}

	metrics.RecordSignIn("webauthn", "webauthn", "success")
	h.writeJSON(w, http.StatusOK, refreshTokenResponse{RefreshToken: refreshToken})
}
