package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"emoney-portal/internal/status"
	"emoney-portal/models"
	"emoney-portal/monitoring"
	"emoney-portal/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Caller identifies who a platform call is made for.
type Caller struct {
	SessionID string
	Token     string
	Locale    string
}

func CallerFor(s *models.Session) Caller {
	if s == nil {
		return Caller{}
	}
	return Caller{SessionID: s.ID, Token: s.AccessToken, Locale: s.Locale}
}

// Client talks to the platform REST API and unwraps its response envelope.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker
	locales    *Locales
	group      singleflight.Group

	onUnauthorized func(ctx context.Context, caller Caller)
}

type Option func(*Client)

func WithBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithLocales(l *Locales) Option {
	return func(c *Client) { c.locales = l }
}

// OnUnauthorized registers the hook run when the platform answers 401.
func OnUnauthorized(fn func(ctx context.Context, caller Caller)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		locales:    NewLocales(nil, "en"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = monitoring.NewBreaker("platform")
	}
	return c
}

// Get fetches path; concurrent identical GETs for the same caller share one
// request. The shared request is bounded by the client timeout rather than by
// any one caller, and each caller stops waiting when its own ctx is done.
func (c *Client) Get(ctx context.Context, caller Caller, path string, query url.Values, out any) error {
	key := strings.Join([]string{caller.Token, caller.Locale, path, query.Encode()}, "|")
	ch := c.group.DoChan(key, func() (any, error) {
		return c.call(context.WithoutCancel(ctx), caller, http.MethodGet, path, query, nil)
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("GET %s: %w", path, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		raw, _ := res.Val.(json.RawMessage)
		return decode(raw, out)
	}
}

func (c *Client) Post(ctx context.Context, caller Caller, path string, body, out any) error {
	return c.send(ctx, caller, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, caller Caller, path string, body, out any) error {
	return c.send(ctx, caller, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, caller Caller, path string, body, out any) error {
	return c.send(ctx, caller, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, caller Caller, path string, out any) error {
	return c.send(ctx, caller, http.MethodDelete, path, nil, out)
}

func (c *Client) send(ctx context.Context, caller Caller, method, path string, body, out any) error {
	raw, err := c.call(ctx, caller, method, path, nil, body)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

// call runs one request through the breaker. Only transport failures and 5xx
// answers count against the breaker.
func (c *Client) call(ctx context.Context, caller Caller, method, path string, query url.Values, body any) (json.RawMessage, error) {
	started := time.Now()
	label := endpointLabel(path)

	var clientErr error
	res, err := c.breaker.Execute(ctx, func() (any, error) {
		raw, err := c.do(ctx, caller, method, path, query, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			clientErr = err
			return nil, nil
		}
		if errors.Is(err, status.ErrUnauthorized) {
			clientErr = err
			return nil, nil
		}
		return raw, err
	})

	switch {
	case errors.Is(err, utils.ErrOpenState), errors.Is(err, utils.ErrTooManyRequests):
		monitoring.TrackPlatformRequest(method, label, "rejected", time.Since(started))
		return nil, fmt.Errorf("%s %s: %w", method, path, status.ErrCircuitOpen)
	case err != nil:
		monitoring.TrackPlatformRequest(method, label, "error", time.Since(started))
		return nil, err
	case clientErr != nil:
		monitoring.TrackPlatformRequest(method, label, "failed", time.Since(started))
		return nil, clientErr
	}

	monitoring.TrackPlatformRequest(method, label, "success", time.Since(started))
	raw, _ := res.(json.RawMessage)
	return raw, nil
}

func (c *Client) do(ctx context.Context, caller Caller, method, path string, query url.Values, body any) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.locales.Negotiate(caller.Locale))
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller.Token != "" {
		req.Header.Set("Authorization", "Bearer "+caller.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		slog.Warn("platform rejected token", "method", method, "path", path, "session_id", caller.SessionID)
		if c.onUnauthorized != nil {
			c.onUnauthorized(context.WithoutCancel(ctx), caller)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, status.ErrUnauthorized)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			return nil, &APIError{StatusCode: resp.StatusCode, Message: GenericMessage}
		}
	}
	if apiErr := env.failure(resp.StatusCode); apiErr != nil {
		return nil, apiErr
	}
	return env.Result, nil
}

func decode(raw json.RawMessage, out any) error {
	if out == nil || isEmptyJSON(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// endpointLabel keeps metric cardinality bounded by masking id segments.
func endpointLabel(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if i > 3 && strings.ContainsAny(p, "0123456789") {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
