// Package service holds the authentication and user business logic.
//
// AuthService sits between the HTTP handlers and the OAuth provider / stores:
//
//	NylasHandler (HTTP) → AuthService (business rules) → UserRepository (Mongo)
//	                    ↘ NylasProvider (OAuth)       ↘ CredentialRepository (Mongo)
//
// KEY RESPONSIBILITIES:
//   - Build the Nylas hosted-auth URL
//   - Turn an authorization code into a stored user + appended token
//   - Remove a token at logout
//
// Nylas is the identity provider: the service never sees a password, and the
// Nylas access token itself is the session credential.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/nylas"
	"github.com/sakif/code-inbox/internal/repository"
)

// OAuthProvider is the hosted-auth half of auth.NylasProvider.
type OAuthProvider interface {
	AuthURL(email, redirectURI, state string) string
	Exchange(ctx context.Context, code string) (*auth.Grant, error)
}

// AccountLookup fetches the provider account behind a token.
type AccountLookup interface {
	Account(ctx context.Context, token string) (*nylas.Account, error)
}

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - provider  OAuthProvider                    → Nylas authorize / token endpoints
//   - accounts  AccountLookup                    → display name for new users
//   - users     repository.UserRepository        → user records
//   - creds     repository.CredentialRepository  → per-user token lists
//   - clientURI string                           → web client origin for redirects
//   - logger    *slog.Logger                     → structured logging
type AuthService struct {
	provider  OAuthProvider
	accounts  AccountLookup
	users     repository.UserRepository
	creds     repository.CredentialRepository
	clientURI string
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// Call this in main.go when wiring the dependency graph.
func NewAuthService(
	provider OAuthProvider,
	accounts AccountLookup,
	users repository.UserRepository,
	creds repository.CredentialRepository,
	clientURI string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		provider:  provider,
		accounts:  accounts,
		users:     users,
		creds:     creds,
		clientURI: strings.TrimRight(clientURI, "/"),
		logger:    logger,
	}
}

// AuthResult is returned by ExchangeCode. Created reports whether this
// exchange inserted the user record (a first login).
type AuthResult struct {
	User    *model.User
	Token   string
	Created bool
}

// AuthURL returns the Nylas hosted-auth URL for email. successURL is a path
// on the web client (e.g. "/auth/success") that Nylas redirects to.
func (s *AuthService) AuthURL(email, successURL string) (string, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return "", apperror.ValidationFailed("email_address", "email_address is required")
	}
	if successURL != "" && !strings.HasPrefix(successURL, "/") {
		successURL = "/" + successURL
	}

	// state only has to be unguessable per attempt; the web client checks it.
	return s.provider.AuthURL(email, s.clientURI+successURL, xid.New().String()), nil
}

// ExchangeCode completes the OAuth flow.
//
// STEPS:
//  1. exchange the code for a Grant (token + email)
//  2. find the user by email, or create it named after the Nylas account
//  3. append the token to the user's credential record
//
// Create is idempotent on email, so two concurrent first logins end with one
// user and both tokens appended.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*AuthResult, error) {
	grant, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	user, created, err := s.findOrCreate(ctx, grant)
	if err != nil {
		return nil, apperror.Internal(auth.ExchangeFailedMessage,
			fmt.Errorf("service/auth: resolving user %s: %w", grant.EmailAddress, err))
	}

	if err := s.creds.AppendToken(ctx, user.ID, grant.AccessToken); err != nil {
		return nil, apperror.Internal(auth.ExchangeFailedMessage,
			fmt.Errorf("service/auth: appending token for %s: %w", user.ID.Hex(), err))
	}

	s.logger.Info("user authenticated via Nylas",
		slog.String("userID", user.ID.Hex()),
		slog.String("email", user.Email),
		slog.Bool("created", created),
	)

	return &AuthResult{User: user, Token: grant.AccessToken, Created: created}, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, grant *auth.Grant) (*model.User, bool, error) {
	user, err := s.users.FindByEmail(ctx, grant.EmailAddress)
	if err == nil {
		return user, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	return s.users.Create(ctx, grant.EmailAddress, s.displayName(ctx, grant))
}

// displayName asks Nylas for the account name. The local part of the email
// is used when the lookup fails or returns nothing.
func (s *AuthService) displayName(ctx context.Context, grant *auth.Grant) string {
	acc, err := s.accounts.Account(ctx, grant.AccessToken)
	if err != nil {
		s.logger.Warn("nylas account lookup failed, using email local part",
			slog.String("email", grant.EmailAddress),
			slog.String("error", err.Error()),
		)
	} else if name := strings.TrimSpace(acc.Name); name != "" {
		return name
	}

	local, _, _ := strings.Cut(grant.EmailAddress, "@")
	return local
}

// Logout removes token from the user's credential record. Other sessions of
// the same user stay valid.
func (s *AuthService) Logout(ctx context.Context, user *model.User, token string) error {
	token = auth.StripBearer(token)
	if token == "" {
		return apperror.ValidationFailed("token", "token is required")
	}
	if err := s.creds.RemoveToken(ctx, user.ID, token); err != nil {
		return fmt.Errorf("service/auth: removing token for %s: %w", user.ID.Hex(), err)
	}

	s.logger.Info("user logged out", slog.String("userID", user.ID.Hex()))
	return nil
}
