package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/model"
)

// ExchangeFailedMessage is what the web client shows when Nylas rejects a code.
const ExchangeFailedMessage = "An error occurred while exchanging the token."

// Nylas hosted-auth scopes: read/organise mail and send as the user.
const nylasScopes = "email.send,email.modify"

// Grant is what a successful Nylas code exchange yields.
type Grant struct {
	AccessToken  string
	EmailAddress string
	AccountID    string
	Provider     string
}

// NylasProvider wraps golang.org/x/oauth2 for the Nylas hosted-auth flow.
//
// FLOW:
//  1. GET /nylas/generate-auth-url → AuthURL points the browser at
//     {api}/oauth/authorize with our client ID, the user's email as
//     login_hint and the web client's success page as redirect_uri.
//  2. Nylas redirects back to the web client with ?code=...
//  3. POST /nylas/exchange-mailbox-token → Exchange trades the code for a
//     token at {api}/oauth/token. Nylas puts email_address and account_id
//     next to access_token in the token response, so no second call is
//     needed to learn who signed in.
//
// Nylas expects client_id/client_secret in the form body, not in a Basic
// auth header, hence AuthStyleInParams.
type NylasProvider struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// DefaultExchangeTimeout bounds a code exchange when no timeout is given.
const DefaultExchangeTimeout = 20 * time.Second

// NewNylasProvider creates a provider for the Nylas API at apiServer
// (e.g. https://api.nylas.com). Every exchange is bounded by timeout; zero
// means DefaultExchangeTimeout.
func NewNylasProvider(clientID, clientSecret, apiServer string, httpClient *http.Client, timeout time.Duration) *NylasProvider {
	apiServer = strings.TrimRight(apiServer, "/")
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &NylasProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   apiServer + "/oauth/authorize",
				TokenURL:  apiServer + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// AuthURL builds the hosted-auth URL for email. redirectURI is where Nylas
// sends the browser afterwards. state is echoed back untouched.
func (p *NylasProvider) AuthURL(email, redirectURI, state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("login_hint", email),
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
		oauth2.SetAuthURLParam("scopes", nylasScopes),
	)
}

// Exchange trades an authorization code for a Grant.
//
// Failures are classified for the HTTP layer:
//   - ctx deadline → apperror.ErrUpstreamTimeout
//   - Nylas said no (4xx from the token endpoint) → apperror.ErrUpstreamAuth
//   - anything else (network, 5xx, malformed body) → apperror.ErrInternal
func (p *NylasProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(ctx, err)
	}

	email, _ := tok.Extra("email_address").(string)
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, apperror.Internal(ExchangeFailedMessage,
			fmt.Errorf("auth: nylas token response has no email_address"))
	}

	accountID, _ := tok.Extra("account_id").(string)
	provider, _ := tok.Extra("provider").(string)

	return &Grant{
		AccessToken:  tok.AccessToken,
		EmailAddress: email,
		AccountID:    accountID,
		Provider:     provider,
	}, nil
}

func classifyExchangeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return apperror.UpstreamTimeout("nylas", err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil &&
		re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return apperror.UpstreamAuth(ExchangeFailedMessage, err)
	}
	return apperror.Internal(ExchangeFailedMessage, fmt.Errorf("auth: exchanging nylas code: %w", err))
}
