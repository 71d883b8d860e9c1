package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
)

// User is the authenticated identity as reported by the auth API.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

// Meta returns a string metadata field or "".
func (u User) Meta(key string) string {
	if u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client talks to the backend auth API under <base>/auth/v1.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Network("", apperrors.MsgNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		cause := fmt.Errorf("auth api %s %s: status %d %s%s", method, path, resp.StatusCode, er.Description, er.Msg)
		switch {
		case resp.StatusCode == http.StatusBadRequest && path == "/token?grant_type=password":
			return apperrors.Auth("INVALID_CREDENTIALS", apperrors.MsgInvalidCredentials, cause)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest:
			return apperrors.Auth("SESSION_EXPIRED", apperrors.MsgSessionExpired, cause)
		case resp.StatusCode >= 500:
			return apperrors.Network("SERVER_ERROR", apperrors.MsgServer, cause)
		}
		return apperrors.From(cause)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}

func (t tokenResponse) tokens() Tokens {
	return Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(t.ExpiresIn) * time.Second),
	}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Tokens, User, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{"email": email, "password": password}, &tr)
	if err != nil {
		return Tokens{}, User{}, err
	}
	return tr.tokens(), tr.User, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, User, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{"refresh_token": refreshToken}, &tr)
	if err != nil {
		return Tokens{}, User{}, err
	}
	return tr.tokens(), tr.User, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Health reports whether the auth API answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}
