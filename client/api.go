package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// DefaultRequestTimeout bounds a single REST call.
const DefaultRequestTimeout = 10 * time.Second

// API is a client for the chatrelay REST endpoints. It reads the bearer token from a
// Holder and clears the Holder when the server rejects the token.
//
// Thread safety: Safe for concurrent use.
type API struct {
	baseURL string
	http    *http.Client
	creds   *Holder
}

// APIOption configures an API client.
type APIOption func(*API) error

// NewAPI creates a client for the server at baseURL (e.g. "http://localhost:8080").
func NewAPI(baseURL string, creds *Holder, opts ...APIOption) (*API, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, fmt.Sprintf("invalid base url %q", baseURL))
	}
	if creds == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "credential holder is required")
	}

	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		creds: creds,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "failed to apply api option", err)
		}
	}
	return a, nil
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) error {
		if c == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		a.http = c
		return nil
	}
}

// Credentials returns the holder the client authenticates with.
func (a *API) Credentials() *Holder {
	return a.creds
}

// Login exchanges a name and password for credentials and stores them in the Holder.
func (a *API) Login(ctx context.Context, name, password string) (Credentials, error) {
	var resp struct {
		Token     string         `json:"token"`
		ExpiresAt time.Time      `json:"expires_at"`
		Identity  model.Identity `json:"identity"`
	}
	err := a.do(ctx, http.MethodPost, "/auth/login", false, map[string]string{
		"name":     name,
		"password": password,
	}, &resp)
	if err != nil {
		return Credentials{}, err
	}

	c := Credentials{Token: resp.Token, ExpiresAt: resp.ExpiresAt, Identity: resp.Identity}
	if err := a.creds.Set(c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Me returns the identity behind the current token.
func (a *API) Me(ctx context.Context) (model.Identity, error) {
	var id model.Identity
	err := a.do(ctx, http.MethodGet, "/auth/me", true, nil, &id)
	return id, err
}

// Logout revokes the token on the server. The Holder is invalidated even when the
// server call fails.
func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/auth/logout", true, nil, nil)
	if invErr := a.creds.Invalidate(); invErr != nil && err == nil {
		err = invErr
	}
	return err
}

// Send posts a direct message and returns the stored record.
func (a *API) Send(ctx context.Context, receiverID int64, body string) (model.Message, error) {
	var msg model.Message
	err := a.do(ctx, http.MethodPost, "/message/send", true, map[string]any{
		"receiver_id": receiverID,
		"message":     body,
	}, &msg)
	return msg, err
}

// History fetches one page of the conversation with peer. limit and cursor may be 0.
func (a *API) History(ctx context.Context, peer int64, limit int, cursor int64) (*chatrelay.HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	path := "/messages/" + strconv.FormatInt(peer, 10)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	page := &chatrelay.HistoryPage{}
	if err := a.do(ctx, http.MethodGet, path, true, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// AuthorizeChannel requests a subscription grant binding socketID to channel.
func (a *API) AuthorizeChannel(ctx context.Context, socketID, channel string) (model.Grant, error) {
	var grant model.Grant
	err := a.do(ctx, http.MethodPost, "/broadcasting/auth", true, map[string]string{
		"socket_id":    socketID,
		"channel_name": channel,
	}, &grant)
	return grant, err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *API) do(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := a.creds.Token()
		if token == "" {
			return chatrelay.ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "read response", err)
	}

	if resp.StatusCode >= 300 {
		return a.statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}

	// The broadcasting auth grant is not wrapped in an envelope.
	if path != "/broadcasting/auth" {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *API) statusError(status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	message := eb.Message
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		_ = a.creds.Invalidate()
		return chatrelay.NewError(chatrelay.ErrCodeUnauthorized, message)
	case status == http.StatusForbidden:
		return chatrelay.NewError(chatrelay.ErrCodeUnauthorized, message)
	case status == http.StatusNotFound:
		return chatrelay.NewError(chatrelay.ErrCodeNoData, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return chatrelay.NewError(chatrelay.ErrCodeValidation, message)
	default:
		return chatrelay.NewError(chatrelay.ErrCodeNetwork, fmt.Sprintf("%d: %s", status, message))
	}
}
