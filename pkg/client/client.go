// Package client is a Go client for the livesync control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apierrors "github.com/mouldrestoration/livesync/internal/api/errors"
	"github.com/mouldrestoration/livesync/internal/api/models"
	"github.com/mouldrestoration/livesync/pkg/proto"
)

// Client talks to a running livesync control API
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeaders sets additional HTTP headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// New creates a client for the API at baseURL, e.g. http://127.0.0.1:8787
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		headers:    headers,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Health checks the API is up
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State returns the current session state
func (c *Client) State(ctx context.Context) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodGet, "/state", nil)
}

// Alerts returns the alerts raised since the last call
func (c *Client) Alerts(ctx context.Context) ([]models.AlertResponse, error) {
	var out []models.AlertResponse
	if err := c.do(ctx, http.MethodGet, "/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Connect opens the realtime connection and returns the settled state
func (c *Client) Connect(ctx context.Context) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/connect", nil)
}

// Disconnect closes the realtime connection
func (c *Client) Disconnect(ctx context.Context) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/disconnect", nil)
}

// SendActivity publishes an activity ping for the signed-in user
func (c *Client) SendActivity(ctx context.Context, action proto.ActivityAction, page string) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/activity", &models.ActivityRequest{Action: action, Page: page})
}

// MarkNotificationRead marks a notification as read
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil)
}

// RequestCalendarSync asks the backend to sync a calendar provider
func (c *Client) RequestCalendarSync(ctx context.Context, provider proto.CalendarProvider) error {
	return c.do(ctx, http.MethodPost, "/calendar/sync/"+url.PathEscape(string(provider)), nil, nil)
}

// Navigate reports the user moving to path
func (c *Client) Navigate(ctx context.Context, path string) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/navigate", &models.NavigateRequest{Path: path})
}

// SetVisible reports the rendering layer being shown or hidden
func (c *Client) SetVisible(ctx context.Context, visible bool) (*models.StateResponse, error) {
	return c.state(ctx, http.MethodPost, "/visibility", &models.VisibilityRequest{Visible: &visible})
}

func (c *Client) state(ctx context.Context, method, path string, body any) (*models.StateResponse, error) {
	var out models.StateResponse
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// envelope mirrors the API response wrapper
type envelope struct {
	Success   bool                `json:"success"`
	RequestID string              `json:"request_id"`
	Data      json.RawMessage     `json:"data"`
	Error     *apierrors.APIError `json:"error"`
}

// do sends a request and decodes the data of the response envelope into
// out. Failures reported by the API come back as *errors.APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error == nil {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		env.Error.HTTPCode = resp.StatusCode
		return env.Error
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
