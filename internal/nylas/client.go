// Package nylas is a small client for the Nylas v2 REST API.
//
// WHY NOT A GLOBAL CLIENT WITH A TOKEN FIELD?
// Every request in this service acts on behalf of a different mailbox. A
// client holding "the current token" would be shared mutable state across
// concurrent requests. Here the token is an argument of every method and is
// attached with oauth2.StaticTokenSource for that one call only, so the
// *Client itself is immutable after New and safe to share.
//
// Response bodies that the web client renders as-is (threads, messages,
// labels, contacts) are returned as json.RawMessage. Only the fields the
// server itself needs (account email, thread participants) are decoded.
package nylas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/metrics"
)

const (
	DefaultAPIServer = "https://api.nylas.com"
	DefaultTimeout   = 20 * time.Second

	// maxErrorBody caps how much of an error response we keep for logs.
	maxErrorBody = 1 << 10
)

// Client talks to one Nylas API server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a Client. A nil httpClient means http.DefaultClient; a zero
// timeout means DefaultTimeout.
func New(apiServer string, httpClient *http.Client, timeout time.Duration) *Client {
	if apiServer == "" {
		apiServer = DefaultAPIServer
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(apiServer, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

// request describes one API call.
type request struct {
	op          string // metric label, e.g. "list_threads"
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

// do runs req as token and returns the raw response body.
func (c *Client) do(ctx context.Context, token string, req request) (json.RawMessage, error) {
	if token == "" {
		return nil, apperror.Unauthorized()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body, err := c.roundTrip(ctx, token, req)
	metrics.ObserveUpstream("nylas", req.op, start, err)
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, token string, req request) (json.RawMessage, error) {
	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, req.body)
	if err != nil {
		return nil, fmt.Errorf("nylas: building %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	// oauth2.NewClient wraps the base client's transport and sets
	// "Authorization: Bearer <token>" on this request only.
	base := context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, apperror.UpstreamTimeout("nylas", err)
		}
		return nil, apperror.Internal("mail provider is unavailable", fmt.Errorf("nylas: %s: %w", req.op, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperror.UpstreamTimeout("nylas", err)
		}
		return nil, fmt.Errorf("nylas: reading %s response: %w", req.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(req.op, resp.StatusCode, raw)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return raw, nil
}

// statusError maps a non-2xx status to an error kind.
func statusError(op string, status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	cause := fmt.Errorf("nylas: %s returned %d: %s", op, status, strings.TrimSpace(string(body)))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "Unauthorized User!", Cause: cause}
	case status == http.StatusNotFound:
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: "Item not found", Cause: cause}
	}
	return apperror.Internal("Something went wrong!", cause)
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("nylas: encoding request: %w", err)
	}
	return bytes.NewReader(b), nil
}
