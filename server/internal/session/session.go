package session

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

const (
	// CookieName is the name of the flow cookie
	CookieName = "hasura-auth-flow"

	// flowIDKey is the session key the flow id is stored under
	flowIDKey = "flow_id"
)

// Manager wraps gorilla/sessions for the one cookie this service sets: an
// HttpOnly carrier for the opaque flow id during a redirect round-trip.
// Nothing else ever goes into it.
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a flow cookie manager. The cookie's authentication and
// encryption keys are both derived from the single configured secret via
// HKDF-SHA256 with distinct info strings, so one secret in config serves both.
// maxAge should match the flow TTL; secure follows the deployment's scheme.
func NewManager(secret string, maxAge int, secure bool) (*Manager, error) {
	authKey, err := deriveKey(secret, "cookie-auth", 64)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cookie auth key: %w", err)
	}
	encKey, err := deriveKey(secret, "cookie-encrypt", 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cookie encryption key: %w", err)
	}

	store := sessions.NewCookieStore(authKey, encKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{store: store}, nil
}

// SetFlowID stores the flow id in the cookie
func (m *Manager) SetFlowID(r *http.Request, w http.ResponseWriter, flowID string) error {
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		// A stale or tampered cookie decodes with an error; start fresh
		session, _ = m.store.New(r, CookieName)
	}

	session.Values[flowIDKey] = flowID
	return session.Save(r, w)
}

// FlowID retrieves the flow id from the cookie. A missing or undecodable
// cookie returns http.ErrNoCookie.
func (m *Manager) FlowID(r *http.Request) (string, error) {
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		return "", err
	}

	flowID, ok := session.Values[flowIDKey].(string)
	if !ok || flowID == "" {
		return "", http.ErrNoCookie
	}

	return flowID, nil
}

// Clear expires the flow cookie
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		session, _ = m.store.New(r, CookieName)
	}

	// MaxAge -1 deletes the cookie on the client
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// deriveKey expands the configured secret into one fixed-size key
func deriveKey(secret, info string, size int) ([]byte, error) {
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, size)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}
