package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
	"github.com/sakif/code-inbox/internal/repository"
)

// Session is an authenticated caller: the stored user plus the Nylas token
// they presented. The token is what mail operations are performed with.
type Session struct {
	User  *model.User
	Token string
}

// Authenticator validates (email, token) pairs against the stores.
//
// A pair is valid when:
//   - a user with that email exists and is active, and
//   - the token is currently one of that user's credential tokens.
//
// "No such user", "disabled" and "token not listed" all collapse into the
// same ErrUnauthorized so a caller cannot learn which emails are registered.
type Authenticator struct {
	users repository.UserRepository
	creds repository.CredentialRepository
}

func NewAuthenticator(users repository.UserRepository, creds repository.CredentialRepository) *Authenticator {
	return &Authenticator{users: users, creds: creds}
}

// Authenticate returns the session for the pair or an error wrapping
// apperror.ErrUnauthorized. Store failures are returned as-is.
func (a *Authenticator) Authenticate(ctx context.Context, email, token string) (*Session, error) {
	email = model.NormalizeEmail(email)
	token = StripBearer(token)
	if email == "" || token == "" {
		return nil, apperror.Unauthorized()
	}

	user, err := a.users.FindByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized()
	}
	if err != nil {
		return nil, fmt.Errorf("auth: looking up session user: %w", err)
	}
	if user.Status != model.UserActive {
		return nil, apperror.Unauthorized()
	}

	ok, err := a.creds.HasToken(ctx, user.ID, token)
	if err != nil {
		return nil, fmt.Errorf("auth: checking session token: %w", err)
	}
	if !ok {
		return nil, apperror.Unauthorized()
	}

	return &Session{User: user, Token: token}, nil
}

// StripBearer removes an optional case-insensitive "Bearer " prefix.
// The web client sends the raw token; other clients send the usual form.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
