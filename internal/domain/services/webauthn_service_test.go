package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
)

// fakeWebAuthnEngine stands in for go-webauthn. It hands out a fixed
// challenge and records what verification was asked of it.
type fakeWebAuthnEngine struct {
	challenge  string
	credential *webauthn.Credential
	createErr  error

	gotExclusions []protocol.CredentialDescriptor
	gotSession    webauthn.SessionData
}

func (f *fakeWebAuthnEngine) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	var cco protocol.PublicKeyCredentialCreationOptions
	for _, opt := range opts {
		opt(&cco)
	}
	f.gotExclusions = cco.CredentialExcludeList

	session := &webauthn.SessionData{
		Challenge: f.challenge,
		UserID:    user.WebAuthnID(),
	}
	return &protocol.CredentialCreation{}, session, nil
}

func (f *fakeWebAuthnEngine) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	f.gotSession = session
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.credential, nil
}

type fakeCredentialParser struct {
	parseErr error
}

func (f *fakeCredentialParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func newTestWebAuthnService(engine *fakeWebAuthnEngine, parser *fakeCredentialParser) (*WebAuthnService, *fakeUserRepo, *fakeAuthenticatorRepo) {
	users := newFakeUserRepo()
	authenticators := newFakeAuthenticatorRepo()
	svc := &WebAuthnService{
		engine:         engine,
		parser:         parser,
		users:          users,
		authenticators: authenticators,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return svc, users, authenticators
}

func testCredential() *webauthn.Credential {
	return &webauthn.Credential{
		ID:        []byte{1, 2, 3, 4},
		PublicKey: []byte("public-key"),
		Authenticator: webauthn.Authenticator{
			SignCount: 7,
		},
	}
}

func TestBeginRegistrationStoresChallenge(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1"}
	svc, users, _ := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	creation, err := svc.BeginRegistration(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if creation == nil {
		t.Fatal("no creation options returned")
	}
	if len(engine.gotExclusions) != 0 {
		t.Errorf("exclusions = %d, want none for a user without credentials", len(engine.gotExclusions))
	}

	reloaded, err := users.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reloaded.CurrentChallenge != "challenge-1" {
		t.Errorf("stored challenge = %q, want %q", reloaded.CurrentChallenge, "challenge-1")
	}
}

func TestBeginRegistrationExcludesExistingCredentials(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1"}
	svc, users, authenticators := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	existing := &entities.Authenticator{
		UserID:       user.ID,
		CredentialID: encodeCredentialID([]byte{9, 9, 9}),
		PublicKey:    []byte("pk"),
	}
	if err := authenticators.Create(context.Background(), existing); err != nil {
		t.Fatalf("seed authenticator: %v", err)
	}

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if len(engine.gotExclusions) != 1 {
		t.Fatalf("exclusions = %d, want 1", len(engine.gotExclusions))
	}
	if string(engine.gotExclusions[0].CredentialID) != string([]byte{9, 9, 9}) {
		t.Errorf("excluded credential id = %v, want %v", engine.gotExclusions[0].CredentialID, []byte{9, 9, 9})
	}
}

func TestBeginRegistrationUnknownUser(t *testing.T) {
	svc, _, _ := newTestWebAuthnService(&fakeWebAuthnEngine{challenge: "c"}, &fakeCredentialParser{})

	_, err := svc.BeginRegistration(context.Background(), "user-gone")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeUserNotFound {
		t.Fatalf("error = %v, want code %s", err, auth.ErrCodeUserNotFound)
	}
}

func TestFinishRegistrationPersistsAuthenticator(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1", credential: testCredential()}
	svc, users, authenticators := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	got, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), " My <i>Security</i> Key ")
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("returned user = %q, want %q", got.ID, user.ID)
	}
	if engine.gotSession.Challenge != "challenge-1" {
		t.Errorf("verified against challenge %q, want the stored one", engine.gotSession.Challenge)
	}

	stored, err := authenticators.ListByUserID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list authenticators: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("authenticator count = %d, want 1", len(stored))
	}
	if stored[0].CredentialID != "AQIDBA" {
		t.Errorf("credential id = %q, want %q", stored[0].CredentialID, "AQIDBA")
	}
	if string(stored[0].PublicKey) != "public-key" {
		t.Errorf("public key = %q, want %q", stored[0].PublicKey, "public-key")
	}
	if stored[0].SignCount != 7 {
		t.Errorf("sign count = %d, want 7", stored[0].SignCount)
	}
	if stored[0].Nickname != "My Security Key" {
		t.Errorf("nickname = %q, want sanitized %q", stored[0].Nickname, "My Security Key")
	}

	reloaded, _ := users.GetByID(context.Background(), user.ID)
	if reloaded.CurrentChallenge != "" {
		t.Errorf("challenge = %q, want cleared", reloaded.CurrentChallenge)
	}
}

func TestFinishRegistrationReplayFails(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1", credential: testCredential()}
	svc, users, _ := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if _, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), ""); err != nil {
		t.Fatalf("finish registration: %v", err)
	}

	// The challenge was consumed; the same response must not verify twice.
	_, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeInvalidRequest {
		t.Fatalf("replay error = %v, want code %s", err, auth.ErrCodeInvalidRequest)
	}
}

func TestFinishRegistrationWithoutChallenge(t *testing.T) {
	svc, users, _ := newTestWebAuthnService(&fakeWebAuthnEngine{credential: testCredential()}, &fakeCredentialParser{})
	user := seedUser(t, users)

	_, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeInvalidRequest {
		t.Fatalf("error = %v, want code %s", err, auth.ErrCodeInvalidRequest)
	}
}

func TestFinishRegistrationMalformedResponse(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1", credential: testCredential()}
	parser := &fakeCredentialParser{parseErr: errors.New("bad json")}
	svc, users, authenticators := newTestWebAuthnService(engine, parser)
	user := seedUser(t, users)

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`garbage`), "")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeInvalidWebAuthnAuthenticator {
		t.Fatalf("error = %v, want code %s", err, auth.ErrCodeInvalidWebAuthnAuthenticator)
	}

	// Even the failed attempt burns the challenge.
	reloaded, _ := users.GetByID(context.Background(), user.ID)
	if reloaded.CurrentChallenge != "" {
		t.Errorf("challenge = %q, want cleared after failed attempt", reloaded.CurrentChallenge)
	}
	if stored, _ := authenticators.ListByUserID(context.Background(), user.ID); len(stored) != 0 {
		t.Errorf("authenticator count = %d, want 0", len(stored))
	}
}

func TestFinishRegistrationRejectedAttestation(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1", createErr: errors.New("origin mismatch")}
	svc, users, authenticators := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeInvalidWebAuthnAuthenticator {
		t.Fatalf("error = %v, want code %s", err, auth.ErrCodeInvalidWebAuthnAuthenticator)
	}

	reloaded, _ := users.GetByID(context.Background(), user.ID)
	if reloaded.CurrentChallenge != "" {
		t.Errorf("challenge = %q, want cleared after rejection", reloaded.CurrentChallenge)
	}
	if stored, _ := authenticators.ListByUserID(context.Background(), user.ID); len(stored) != 0 {
		t.Errorf("authenticator count = %d, want 0", len(stored))
	}
}

func TestFinishRegistrationDuplicateCredential(t *testing.T) {
	engine := &fakeWebAuthnEngine{challenge: "challenge-1", credential: testCredential()}
	svc, users, authenticators := newTestWebAuthnService(engine, &fakeCredentialParser{})
	user := seedUser(t, users)

	// The same credential id already belongs to someone else.
	other := &entities.User{Email: "b@example.com", DisplayName: "Other", DefaultRole: "user", Roles: []string{"user"}}
	if err := users.Create(context.Background(), other); err != nil {
		t.Fatalf("seed other user: %v", err)
	}
	taken := &entities.Authenticator{
		UserID:       other.ID,
		CredentialID: encodeCredentialID([]byte{1, 2, 3, 4}),
		PublicKey:    []byte("pk"),
	}
	if err := authenticators.Create(context.Background(), taken); err != nil {
		t.Fatalf("seed authenticator: %v", err)
	}

	if _, err := svc.BeginRegistration(context.Background(), user.ID); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	var authErr *auth.Error
	if !errors.As(err, &authErr) || authErr.Code != auth.ErrCodeInvalidWebAuthnVerification {
		t.Fatalf("error = %v, want code %s", err, auth.ErrCodeInvalidWebAuthnVerification)
	}
}
