package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
)

// fakeUserRepo is an in-memory UserRepository enforcing the same
// uniqueness rules as the schema.
type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*entities.User
	nextID  int
	created int
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
	f.created++
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

// fakeIdentityRepo is an in-memory IdentityRepository with the schema's
// two uniqueness constraints.
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

func (f *fakeRefreshTokenRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

var (
	_ repositories.UserRepository          = (*fakeUserRepo)(nil)
	_ repositories.IdentityRepository      = (*fakeIdentityRepo)(nil)
	_ repositories.AuthenticatorRepository = (*fakeAuthenticatorRepo)(nil)
	_ repositories.RefreshTokenRepository  = (*fakeRefreshTokenRepo)(nil)
)
