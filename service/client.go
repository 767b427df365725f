package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "http://localhost:8888"
	defaultUserAgent   = "seatctl"
	defaultTimeout     = 12 * time.Second
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryCap    = 1200 * time.Millisecond

	refreshPath = "/api/auth/refresh-token"
)

// Client wraps HTTP access to the reservation API. Credentials travel as
// cookies, so every request shares the client's cookie jar.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	logger      *zap.Logger
}

// NewClient creates a new API client. If httpClient is nil, a default client
// with an in-memory cookie jar is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Timeout: defaultTimeout, Jar: jar}
	}
	if httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		httpClient.Jar = jar
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		userAgent:   defaultUserAgent,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		logger:      zap.NewNop(),
	}
}

// WithLogger sets the logger used for retry and refresh diagnostics.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// BaseURL returns the API root every path is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Jar exposes the cookie jar holding the session credentials.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// request describes one API call. Only idempotent reads are retried on
// transient failures; every call gets one replay after a successful token
// refresh.
type request struct {
	method  string
	path    string
	body    any
	retry   bool
	refresh bool
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, retry: true, refresh: true}, out)
}

func (c *Client) send(ctx context.Context, method string, path string, body any, out any) error {
	return c.do(ctx, request{method: method, path: path, body: body, refresh: true}, out)
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	err := c.doWithRetry(ctx, req, out)
	if !req.refresh || KindOf(err) != KindAuthExpired {
		return err
	}
	if refreshErr := c.refresh(ctx); refreshErr != nil {
		c.logger.Debug("token refresh failed", zap.String("path", req.path), zap.Error(refreshErr))
		return err
	}
	return c.doWithRetry(ctx, req, out)
}

func (c *Client) refresh(ctx context.Context) error {
	return c.doWithRetry(ctx, request{method: http.MethodPost, path: refreshPath}, nil)
}

func (c *Client) doWithRetry(ctx context.Context, req request, out any) error {
	endpoint := c.baseURL + req.path
	maxAttempts := c.maxAttempts
	if maxAttempts < 1 || !req.retry {
		maxAttempts = 1
	}

	var payload []byte
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("User-Agent", c.userAgent)
		httpReq.Header.Set("Accept", "application/json, text/plain")
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		res, err := c.httpClient.Do(httpReq)
		if err != nil {
			if c.shouldRetryNetworkError(err) && attempt < maxAttempts {
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("request failed: %w", err)
		}

		if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
			snippet, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
			_ = res.Body.Close()

			apiErr := &APIError{
				StatusCode: res.StatusCode,
				Status:     res.Status,
				Endpoint:   endpoint,
				Body:       strings.TrimSpace(string(snippet)),
			}
			if c.shouldRetryStatus(res.StatusCode) && attempt < maxAttempts {
				c.logger.Debug("retrying request", zap.String("endpoint", endpoint), zap.Int("status", res.StatusCode), zap.Int("attempt", attempt))
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apiErr
		}

		err = decodeBody(res, out)
		_ = res.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response from %s: %w", endpoint, err)
		}
		return nil
	}

	return errors.New("request failed after retries")
}

// decodeBody fills out from a JSON body, or from a plain-text body when out
// is a *string. Empty bodies leave out untouched.
func decodeBody(res *http.Response, out any) error {
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	contentType := res.Header.Get("Content-Type")
	if text, ok := out.(*string); ok && !strings.Contains(contentType, "json") {
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		*text = strings.TrimSpace(string(raw))
		return nil
	}
	err := json.NewDecoder(res.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Client) shouldRetryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *Client) shouldRetryNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) waitRetry(ctx context.Context, attempt int) error {
	delay := c.retryDelay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.retryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	cap := c.retryCap
	if cap <= 0 {
		cap = defaultRetryCap
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= cap/2 {
			return cap
		}
		delay *= 2
	}
	if delay > cap {
		return cap
	}
	return delay
}
