package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/providers"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
	"github.com/Morstis/hasura-auth/internal/pkg/textutil"
	"github.com/Morstis/hasura-auth/internal/pkg/urlutil"
)

// resolveAttempts bounds the retry loop for insert races. A lost race is
// resolved by re-reading, so one retry suffices; a second consecutive
// conflict means a deterministic collision, not a race.
const resolveAttempts = 2

// Outcome describes what Resolve did for a profile.
type Outcome string

const (
	// OutcomeUpdated means the identity was already linked; its provider
	// tokens were refreshed.
	OutcomeUpdated Outcome = "updated"
	// OutcomeLinked means a new identity link was attached to an existing
	// user found by email.
	OutcomeLinked Outcome = "linked"
	// OutcomeCreated means a new user was created together with its first
	// identity link.
	OutcomeCreated Outcome = "created"
)

// ProviderTokens are the provider-issued tokens stored on an identity link.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
}

// SignUpOptions are caller-supplied registration options, captured verbatim
// at flow start. Nil fields mean "not specified"; defaults are applied here,
// at resolution, and nowhere earlier.
type SignUpOptions struct {
	DisplayName  *string
	Locale       *string
	DefaultRole  *string
	AllowedRoles []string
	Metadata     map[string]interface{}
}

// AccountConfig carries the resolution defaults and policies from
// configuration.
type AccountConfig struct {
	DefaultLocale  string
	AllowedLocales []string
	DefaultRole    string
	AllowedRoles   []string

	GravatarEnabled bool
	GravatarDefault string
	GravatarRating  string

	RequireVerifiedEmailForLinking bool
}

// AccountService resolves a verified provider profile to exactly one
// internal user, creating or linking accounts as needed.
type AccountService struct {
	users      repositories.UserRepository
	identities repositories.IdentityRepository
	cfg        AccountConfig
	log        *slog.Logger
}

// NewAccountService creates a new account resolution service
func NewAccountService(users repositories.UserRepository, identities repositories.IdentityRepository, cfg AccountConfig) *AccountService {
	return &AccountService{
		users:      users,
		identities: identities,
		cfg:        cfg,
		log:        slog.Default().With(slog.String("service", "account")),
	}
}

// Resolve maps a canonical profile to a user. Precedence: existing link,
// then email match, then create. Post-condition for every branch: exactly
// one link row for (providerID, profile.ExternalID) and exactly one user
// returned, including under concurrent attempts for the same identity.
//
// TODO: block disabled users here once the error taxonomy grows a code for it.
func (s *AccountService) Resolve(ctx context.Context, providerID string, profile *providers.Profile, tokens ProviderTokens, opts SignUpOptions) (*entities.User, Outcome, error) {
	if profile == nil || profile.ExternalID == "" {
		return nil, "", auth.NewError(auth.ErrCodeInternalError, "provider profile carries no user id")
	}

	var (
		user    *entities.User
		outcome Outcome
		err     error
	)
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		user, outcome, err = s.resolveOnce(ctx, providerID, profile, tokens, opts)
		if !errors.Is(err, repositories.ErrAlreadyExists) {
			break
		}
		// Lost an insert race; the winner's rows are in place now, so the
		// next pass resolves through an earlier branch.
		s.log.Debug("retrying account resolution after insert race",
			slog.String("provider", providerID),
			slog.String("external_id", profile.ExternalID))
	}

	if errors.Is(err, repositories.ErrAlreadyExists) {
		// Still conflicting after a re-read: a deterministic collision,
		// e.g. the email belongs to an account this profile may not link to.
		err = auth.NewError(auth.ErrCodeInvalidRequest, "email already in use by another account")
	}
	if err != nil {
		metrics.AccountResolutions.WithLabelValues(providerID, "error").Inc()
		return nil, "", err
	}

	metrics.AccountResolutions.WithLabelValues(providerID, string(outcome)).Inc()
	return user, outcome, nil
}

func (s *AccountService) resolveOnce(ctx context.Context, providerID string, profile *providers.Profile, tokens ProviderTokens, opts SignUpOptions) (*entities.User, Outcome, error) {
	// Branch 1: the external identity is already linked. Rotate its stored
	// provider tokens; nothing else on the user is touched.
	link, err := s.identities.GetByProviderAndExternalID(ctx, providerID, profile.ExternalID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up identity link: %w", err)
	}
	if link != nil {
		if err := s.identities.UpdateTokens(ctx, link.ID, tokens.AccessToken, tokens.RefreshToken); err != nil {
			return nil, "", fmt.Errorf("failed to rotate provider tokens: %w", err)
		}
		user, err := s.users.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load linked user: %w", err)
		}
		return user, OutcomeUpdated, nil
	}

	// Branch 2: an account with this email exists; attach the identity to it.
	if s.linkableEmail(profile) {
		existing, err := s.users.GetByEmail(ctx, profile.Email)
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up user by email: %w", err)
		}
		if existing != nil {
			identity := &entities.Identity{
				UserID:       existing.ID,
				Provider:     providerID,
				ExternalID:   profile.ExternalID,
				AccessToken:  tokens.AccessToken,
				RefreshToken: tokens.RefreshToken,
			}
			if err := s.identities.Create(ctx, identity); err != nil {
				return nil, "", err
			}
			s.log.Info("linked provider to existing account",
				slog.String("provider", providerID),
				slog.String("user_id", existing.ID))
			return existing, OutcomeLinked, nil
		}
	}

	// Branch 3: first appearance of this identity; create a user and its
	// first link.
	user := s.newUserFromProfile(profile, opts)
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	identity := &entities.Identity{
		UserID:       user.ID,
		Provider:     providerID,
		ExternalID:   profile.ExternalID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			// A concurrent attempt for the same external identity created
			// its link first. Remove the now-orphaned user before retrying.
			if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
				s.log.Error("failed to roll back orphaned user",
					slog.String("user_id", user.ID),
					slog.String("error", delErr.Error()))
			}
		}
		return nil, "", err
	}

	s.log.Info("created account from provider profile",
		slog.String("provider", providerID),
		slog.String("user_id", user.ID))
	return user, OutcomeCreated, nil
}

// linkableEmail reports whether the profile's email may be used to attach
// this identity to an existing account.
func (s *AccountService) linkableEmail(profile *providers.Profile) bool {
	if profile.Email == "" {
		return false
	}
	if s.cfg.RequireVerifiedEmailForLinking && !profile.EmailVerified {
		return false
	}
	return true
}

// newUserFromProfile builds a user from a profile and captured options,
// applying configured defaults to everything left unspecified.
func (s *AccountService) newUserFromProfile(profile *providers.Profile, opts SignUpOptions) *entities.User {
	displayName := profile.DisplayName
	if opts.DisplayName != nil {
		displayName = textutil.CleanName(*opts.DisplayName)
	}
	if displayName == "" {
		displayName = profile.Email
	}

	avatarURL := profile.AvatarURL
	if avatarURL == "" && profile.Email != "" && s.cfg.GravatarEnabled {
		avatarURL = urlutil.GravatarURL(profile.Email, s.cfg.GravatarDefault, s.cfg.GravatarRating)
	}

	defaultRole, roles := s.pickRoles(opts)

	return &entities.User{
		Email:       profile.Email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		Locale:      s.pickLocale(opts.Locale, profile.Locale),
		DefaultRole: defaultRole,
		Roles:       roles,
		Metadata:    opts.Metadata,
	}
}

// pickLocale returns the first allowed locale among the requested one, the
// provider-reported one, and the configured default.
func (s *AccountService) pickLocale(requested *string, fromProfile string) string {
	if requested != nil && s.localeAllowed(*requested) {
		return *requested
	}
	if s.localeAllowed(fromProfile) {
		return fromProfile
	}
	return s.cfg.DefaultLocale
}

func (s *AccountService) localeAllowed(locale string) bool {
	for _, allowed := range s.cfg.AllowedLocales {
		if locale == allowed {
			return true
		}
	}
	return false
}

// pickRoles applies the configured role policy: the requested default role
// and allowed roles are honored only where the configuration allows them,
// and the default role is always part of the allowed set.
func (s *AccountService) pickRoles(opts SignUpOptions) (string, []string) {
	defaultRole := s.cfg.DefaultRole
	if opts.DefaultRole != nil && s.roleAllowed(*opts.DefaultRole) {
		defaultRole = *opts.DefaultRole
	}

	var roles []string
	for _, role := range opts.AllowedRoles {
		if s.roleAllowed(role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, s.cfg.AllowedRoles...)
	}

	for _, role := range roles {
		if role == defaultRole {
			return defaultRole, roles
		}
	}
	return defaultRole, append(roles, defaultRole)
}

func (s *AccountService) roleAllowed(role string) bool {
	for _, allowed := range s.cfg.AllowedRoles {
		if role == allowed {
			return true
		}
	}
	return false
}
