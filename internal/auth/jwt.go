// Package auth covers the three ways a caller proves who they are:
//
//  1. Nylas OAuth (oauth.go): the browser is sent to Nylas, comes back with a
//     code, and the server trades the code for an access token plus the
//     mailbox address. That token IS the session credential.
//  2. Session headers (session.go, middleware.go): every protected request
//     carries Email + Authorization. The pair is valid while the token is
//     still in the user's credential record.
//  3. Unsubscribe links (this file): tutorial emails contain a signed,
//     long-lived JWT so a reader can opt out without signing in.
//
// WHY JWT ONLY FOR UNSUBSCRIBE?
// Sessions must be revocable (logout deletes the token), so they are checked
// against the store on every request. An unsubscribe link only needs to prove
// "this email address was sent by us", which a signature does on its own.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/code-inbox/internal/model"
)

const (
	unsubscribeIssuer   = "code-inbox"
	unsubscribeAudience = "unsubscribe"

	// UnsubscribeTTL is how long a link in an email stays usable.
	UnsubscribeTTL = 30 * 24 * time.Hour
)

// UnsubscribeTokens signs and verifies unsubscribe links.
type UnsubscribeTokens struct {
	secret []byte
}

// NewUnsubscribeTokens creates an UnsubscribeTokens with the given HMAC secret.
// Example: UNSUBSCRIBE_SECRET=$(openssl rand -hex 32)
func NewUnsubscribeTokens(secret string) (*UnsubscribeTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: unsubscribe secret must be at least 16 characters")
	}
	return &UnsubscribeTokens{secret: []byte(secret)}, nil
}

// Issue signs a token for email valid for UnsubscribeTTL.
func (s *UnsubscribeTokens) Issue(email string) (string, error) {
	return s.IssueWithDuration(email, UnsubscribeTTL)
}

// IssueWithDuration signs a token with a custom lifetime. Used in tests.
func (s *UnsubscribeTokens) IssueWithDuration(email string, d time.Duration) (string, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return "", errors.New("auth: cannot issue unsubscribe token without an email")
	}

	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   email,
		Audience:  jwt.ClaimStrings{unsubscribeAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    unsubscribeIssuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing unsubscribe token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr and returns the email it was issued for.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired
//   - Issuer and audience match, so a token minted for another purpose
//     with the same secret is rejected
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *UnsubscribeTokens) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(unsubscribeIssuer),
		jwt.WithAudience(unsubscribeAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: unsubscribe token expired")
		}
		return "", fmt.Errorf("auth: invalid unsubscribe token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("auth: invalid unsubscribe token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: unsubscribe token has no subject")
	}
	return c.Subject, nil
}
