package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenSource supplies the bearer token for API calls, refreshing
// transparently. A failed fetch is surfaced to the dispatcher as a
// retryable error, never a fatal one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// tokenInvalidator is implemented by caching token sources that can drop
// a token the server no longer accepts.
type tokenInvalidator interface {
	Invalidate()
}

// Client is the HTTP API client the dispatcher applies operations with.
// Paths are REST collections ("habits", "feed", "tasks"); entities are
// idempotent upserts keyed by client-generated ids.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// Create POSTs payload to the collection path.
func (c *Client) Create(ctx context.Context, path string, payload []byte) error {
	return c.do(ctx, http.MethodPost, path, payload)
}

// Update PUTs payload to path/id.
func (c *Client) Update(ctx context.Context, path, id string, payload []byte) error {
	return c.do(ctx, http.MethodPut, path+"/"+id, payload)
}

// Delete removes path/id. The body is empty; the server only needs the id.
func (c *Client) Delete(ctx context.Context, path, id string) error {
	return c.do(ctx, http.MethodDelete, path+"/"+id, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) error {
	op := fmt.Sprintf("%s /%s", method, path)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Kind: KindUnauthorized, Op: op, Err: fmt.Errorf("get access token: %w", err)}
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, body)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransport(err), Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	kind := classifyStatus(resp.StatusCode)
	if kind == KindUnauthorized {
		// The server revoked this token; drop it so the next attempt
		// refreshes instead of replaying the same rejected credential.
		if inv, ok := c.tokens.(tokenInvalidator); ok {
			inv.Invalidate()
		}
	}
	if c.logger != nil {
		c.logger.Debug("api call rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind.String()))
	}
	return &Error{Kind: kind, StatusCode: resp.StatusCode, Op: op}
}

// MarshalPayload serializes an entity snapshot for enqueueing. Kept here so
// every repository stores payloads in the same shape the client replays.
func MarshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}
