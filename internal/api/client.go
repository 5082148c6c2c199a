// Package api is the HTTP client for the remote bulq service: typed
// operations over the REST surface, an opaque bearer credential on every
// request, and structured decoding of rejections into *Error.
//
// The client performs no retries and holds no entity state; the cache layer
// owns both concerns.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nedrrelm/bulq/internal/session"
)

// DefaultTimeout bounds a single request round trip.
const DefaultTimeout = 10 * time.Second

// Client talks to the remote service.
type Client struct {
	base string
	http *http.Client
	sess *session.Store
	log  *slog.Logger
}

// ClientOption allows configuration of client parameters.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, typically to
// inject a test transport or a custom timeout.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client for the service at baseURL (scheme and host, e.g.
// "https://bulq.example.org"). The session store supplies the credential
// per request, so sign-in and sign-out take effect without rebuilding the
// client.
func New(baseURL string, sess *session.Store, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url %q: scheme and host required", baseURL)
	}

	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{Timeout: DefaultTimeout},
		sess: sess,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// errorBody is the service's rejection envelope.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// do runs one request: marshal body, attach credential, decode the
// response into out (ignored when out is nil). Non-2xx responses become
// *Error; transport failures are returned as-is so callers can tell the
// two apart.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.sess.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeRejection(method, path, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeRejection turns a non-2xx response into *Error. An undecodable
// error body still yields a usable Error with a kind inferred from the
// status code.
func (c *Client) decodeRejection(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Kind != "" {
		c.log.Debug("remote rejection",
			"method", method, "path", path,
			"status", resp.StatusCode, "kind", eb.Error.Kind)
		return &Error{Kind: eb.Error.Kind, Message: eb.Error.Message, Status: resp.StatusCode}
	}

	kind := KindInternal
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = KindValidation
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	c.log.Debug("remote rejection without error body",
		"method", method, "path", path, "status", resp.StatusCode)
	return &Error{Kind: kind, Message: msg, Status: resp.StatusCode}
}
