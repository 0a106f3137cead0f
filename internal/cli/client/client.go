package client

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

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/platform"
)

// Client represents an HTTP client for the portal JSON API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client for the server at baseURL
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed (status %d)", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// IsUnauthorized reports whether err is a 401 from the server
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// SessionResponse mirrors the auth endpoints' payload. User is nil when the
// token backs no live session.
type SessionResponse struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   *time.Time         `json:"expires_at"`
	User        *platform.Identity `json:"user"`
	Redirect    string             `json:"redirect"`
}

// NotificationsResponse is the caller's notification feed
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int64                 `json:"unread"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// Login exchanges credentials for an access token
func (c *Client) Login(ctx context.Context, email, password string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account with its profile and signs it in
func (c *Client) Register(ctx context.Context, email, password string, fields platform.ProfileFields) (*SessionResponse, error) {
	req := registerRequest{
		Email:      email,
		Password:   password,
		FullName:   fields.FullName,
		Role:       fields.Role,
		Department: fields.Department,
	}
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the session behind token
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// Session returns the raw session behind token
func (c *Client) Session(ctx context.Context, token string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches a stored profile by account id
func (c *Client) Profile(ctx context.Context, token, userID string) (*platform.Profile, error) {
	var profile platform.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(userID), token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Notifications lists the caller's notifications, newest first
func (c *Client) Notifications(ctx context.Context, token string) (*NotificationsResponse, error) {
	var resp NotificationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Alert string `json:"alert"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			if apiErr.Message == "" {
				apiErr.Message = payload.Alert
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
