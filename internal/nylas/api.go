package nylas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// =========================================================================
// ACCOUNT
// =========================================================================

func (c *Client) Account(ctx context.Context, token string) (*Account, error) {
	raw, err := c.do(ctx, token, request{op: "account", method: http.MethodGet, path: "/account"})
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("nylas: decoding account: %w", err)
	}
	return &acc, nil
}

// =========================================================================
// THREADS & MESSAGES
// =========================================================================

// ListThreads returns the newest limit threads in expanded view.
func (c *Client) ListThreads(ctx context.Context, token string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("view", "expanded")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.do(ctx, token, request{op: "list_threads", method: http.MethodGet, path: "/threads", query: q})
}

func (c *Client) GetThread(ctx context.Context, token, id string) (*Thread, error) {
	raw, err := c.do(ctx, token, request{op: "get_thread", method: http.MethodGet, path: "/threads/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	var t Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("nylas: decoding thread %s: %w", id, err)
	}
	return &t, nil
}

// SearchThreads runs a provider-side full-text search.
func (c *Client) SearchThreads(ctx context.Context, token, query string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.do(ctx, token, request{op: "search_threads", method: http.MethodGet, path: "/threads/search", query: q})
}

// UpdateThreadLabels replaces the labels on a thread.
func (c *Client) UpdateThreadLabels(ctx context.Context, token, threadID string, labelIDs []string) (json.RawMessage, error) {
	body, err := jsonBody(map[string][]string{"label_ids": labelIDs})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, token, request{
		op:          "update_thread",
		method:      http.MethodPut,
		path:        "/threads/" + url.PathEscape(threadID),
		body:        body,
		contentType: "application/json",
	})
}

func (c *Client) GetMessage(ctx context.Context, token, id string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("view", "expanded")
	return c.do(ctx, token, request{op: "get_message", method: http.MethodGet, path: "/messages/" + url.PathEscape(id), query: q})
}

// =========================================================================
// SENDING
// =========================================================================

// Send sends a JSON draft as the token's mailbox.
func (c *Client) Send(ctx context.Context, token string, d Draft) (json.RawMessage, error) {
	body, err := jsonBody(d)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, token, request{op: "send", method: http.MethodPost, path: "/send", body: body, contentType: "application/json"})
}

// SendRaw sends a complete RFC 822 message as the token's mailbox.
func (c *Client) SendRaw(ctx context.Context, token string, mime []byte) (json.RawMessage, error) {
	return c.do(ctx, token, request{
		op:          "send_raw",
		method:      http.MethodPost,
		path:        "/send",
		body:        bytes.NewReader(mime),
		contentType: "message/rfc822",
	})
}

// =========================================================================
// LABELS
// =========================================================================

func (c *Client) ListLabels(ctx context.Context, token string) (json.RawMessage, error) {
	return c.do(ctx, token, request{op: "list_labels", method: http.MethodGet, path: "/labels"})
}

func (c *Client) CreateLabel(ctx context.Context, token, name, color string) (*Label, error) {
	payload := map[string]string{"display_name": name}
	if color != "" {
		payload["color"] = color
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, token, request{op: "create_label", method: http.MethodPost, path: "/labels", body: body, contentType: "application/json"})
	if err != nil {
		return nil, err
	}
	var l Label
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("nylas: decoding label: %w", err)
	}
	return &l, nil
}

// DeleteLabel deletes a label. A missing label is apperror.ErrNotFound.
func (c *Client) DeleteLabel(ctx context.Context, token, id string) error {
	_, err := c.do(ctx, token, request{op: "delete_label", method: http.MethodDelete, path: "/labels/" + url.PathEscape(id)})
	return err
}

// =========================================================================
// CONTACTS
// =========================================================================

func (c *Client) ListContacts(ctx context.Context, token string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.do(ctx, token, request{op: "list_contacts", method: http.MethodGet, path: "/contacts", query: q})
}
