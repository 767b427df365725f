package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"seatctl/model"
)

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the registration payload.
type SignupRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates and stores the access and refresh cookies in the jar.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login", body: creds}, nil)
}

// Signup registers a new account and returns its id.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (int64, error) {
	var id int64
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/signup", body: req}, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Logout invalidates the server-side session and its cookies.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/auth/logout"}, nil)
}

// CheckAuth reports whether the stored credentials are still accepted.
// Transport errors are returned; a rejection is just false.
func (c *Client) CheckAuth(ctx context.Context) (bool, error) {
	err := c.doWithRetry(ctx, request{method: http.MethodGet, path: "/api/auth/check"}, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false, nil
	}
	return false, err
}

// RefreshToken exchanges the refresh cookie for a new access cookie.
func (c *Client) RefreshToken(ctx context.Context) error {
	return c.refresh(ctx)
}

// ChannelToken obtains the short-lived bearer token the live seat channel
// presents on connect.
func (c *Client) ChannelToken(ctx context.Context, clientID string) (string, error) {
	path := "/api/auth/ws?" + url.Values{"clientId": {clientID}}.Encode()
	var token string
	if err := c.send(ctx, http.MethodPost, path, nil, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("empty channel token")
	}
	return token, nil
}

// GetProfile returns the user the stored credentials belong to.
func (c *Client) GetProfile(ctx context.Context) (model.UserProfile, error) {
	var out model.UserProfile
	if err := c.getJSON(ctx, "/api/users/fromToken", &out); err != nil {
		return model.UserProfile{}, err
	}
	return out, nil
}

// SessionCookies returns the credentials cookies currently held for the API.
func (c *Client) SessionCookies() []*http.Cookie {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil
	}
	return c.httpClient.Jar.Cookies(u)
}

// RestoreSession seeds the jar with previously saved credentials cookies.
func (c *Client) RestoreSession(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.httpClient.Jar.SetCookies(u, cookies)
}
