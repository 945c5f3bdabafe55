package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/textutil"
)

// nicknameMaxLen bounds stored authenticator nicknames.
const nicknameMaxLen = 64

// webAuthnEngine is the slice of go-webauthn used for registration.
// Narrow so tests can substitute a fake.
type webAuthnEngine interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
}

// credentialParser decodes a client's attestation response.
type credentialParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
}

type defaultCredentialParser struct{}

func (defaultCredentialParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	// protocol.ParseCredentialCreationResponseBytes first shipped after
	// v0.10.2; this is its exact definition in terms of the Body variant.
	return protocol.ParseCredentialCreationResponseBody(bytes.NewReader(data))
}

// WebAuthnService drives credential registration: challenge issue and
// attestation verify. At most one challenge is outstanding per user; it
// lives on the user record and never survives a verification attempt.
type WebAuthnService struct {
	engine         webAuthnEngine
	parser         credentialParser
	users          repositories.UserRepository
	authenticators repositories.AuthenticatorRepository
	log            *slog.Logger
}

// NewWebAuthnService creates a WebAuthn registration service for the
// configured relying party.
func NewWebAuthnService(cfg config.WebAuthnConfig, users repositories.UserRepository, authenticators repositories.AuthenticatorRepository) (*WebAuthnService, error) {
	engine, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &WebAuthnService{
		engine:         engine,
		parser:         defaultCredentialParser{},
		users:          users,
		authenticators: authenticators,
		log:            slog.Default().With(slog.String("service", "webauthn")),
	}, nil
}

// BeginRegistration issues a registration challenge for the user, excluding
// already-registered credentials. A previously outstanding challenge is
// overwritten.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	wu, err := s.loadWebAuthnUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var opts []webauthn.RegistrationOption
	if len(wu.credentials) > 0 {
		// webauthn.Credentials.CredentialDescriptors first shipped after
		// v0.10.2; this loop is its exact definition.
		exclusions := make([]protocol.CredentialDescriptor, len(wu.credentials))
		for i, credential := range wu.credentials {
			exclusions[i] = credential.Descriptor()
		}
		opts = append(opts, webauthn.WithExclusions(exclusions))
	}

	creation, session, err := s.engine.BeginRegistration(wu, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin webauthn registration: %w", err)
	}

	if err := s.users.SetCurrentChallenge(ctx, userID, session.Challenge); err != nil {
		return nil, fmt.Errorf("failed to store webauthn challenge: %w", err)
	}

	return creation, nil
}

// FinishRegistration verifies an attestation response against the user's
// outstanding challenge and persists the new authenticator. The challenge is
// cleared whether or not verification succeeds, so no failed attempt leaves
// a reusable challenge behind.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, userID string, credentialJSON []byte, nickname string) (*entities.User, error) {
	wu, err := s.loadWebAuthnUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	challenge := wu.user.CurrentChallenge
	if challenge == "" {
		return nil, auth.NewError(auth.ErrCodeInvalidRequest, "no registration challenge outstanding")
	}

	defer func() {
		if clearErr := s.users.SetCurrentChallenge(ctx, userID, ""); clearErr != nil {
			s.log.Error("failed to clear webauthn challenge",
				slog.String("user_id", userID),
				slog.String("error", clearErr.Error()))
		}
	}()

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(credentialJSON)
	if err != nil {
		return nil, auth.NewError(auth.ErrCodeInvalidWebAuthnAuthenticator, "malformed credential response")
	}

	session := webauthn.SessionData{
		Challenge: challenge,
		UserID:    wu.WebAuthnID(),
	}

	credential, err := s.engine.CreateCredential(wu, session, parsed)
	if err != nil {
		s.log.Warn("webauthn attestation rejected",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return nil, auth.NewError(auth.ErrCodeInvalidWebAuthnAuthenticator, "credential verification failed")
	}
	if credential == nil {
		return nil, auth.NewError(auth.ErrCodeInvalidWebAuthnVerification, "verification produced no credential")
	}

	authenticator := &entities.Authenticator{
		UserID:       userID,
		CredentialID: encodeCredentialID(credential.ID),
		PublicKey:    credential.PublicKey,
		SignCount:    int64(credential.Authenticator.SignCount),
		Nickname:     textutil.CleanNameWithLimit(nickname, nicknameMaxLen),
	}
	if err := s.authenticators.Create(ctx, authenticator); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return nil, auth.NewError(auth.ErrCodeInvalidWebAuthnVerification, "credential already registered")
		}
		return nil, fmt.Errorf("failed to store authenticator: %w", err)
	}

	s.log.Info("registered webauthn credential",
		slog.String("user_id", userID),
		slog.String("credential_id", authenticator.CredentialID))
	return wu.user, nil
}

// loadWebAuthnUser fetches a user and its registered credentials in the
// shape go-webauthn expects.
func (s *WebAuthnService) loadWebAuthnUser(ctx context.Context, userID string) (*webAuthnUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, auth.NewError(auth.ErrCodeUserNotFound, "user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	stored, err := s.authenticators.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list authenticators: %w", err)
	}

	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, a := range stored {
		id, err := decodeCredentialID(a.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credential id %s: %w", a.CredentialID, err)
		}
		credentials = append(credentials, webauthn.Credential{
			ID:        id,
			PublicKey: a.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: uint32(a.SignCount),
			},
		})
	}

	return &webAuthnUser{user: user, credentials: credentials}, nil
}

// webAuthnUser adapts an entities.User to the webauthn.User interface.
type webAuthnUser struct {
	user        *entities.User
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	if u.user.Email != "" {
		return u.user.Email
	}
	return u.user.DisplayName
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return u.user.AvatarURL
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}
