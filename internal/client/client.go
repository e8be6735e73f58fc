// Package client talks to the request board HTTP API.
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
	"sync"
	"time"

	"reqboard/internal/domain"
	"reqboard/internal/session"
)

// Client is a request board API client. Calls are authenticated with the
// token of Session when one is set.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	Session session.Provider

	once     sync.Once
	fallback *http.Client
}

const defaultTimeout = 10 * time.Second

// New creates a client with sane defaults. It is safe for concurrent use.
func New(baseURL string, s session.Provider) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Timeout:    defaultTimeout,
		Session:    s,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	c.once.Do(func() { c.fallback = &http.Client{Timeout: c.Timeout} })
	return c.fallback
}

// APIError wraps non-2xx responses. Message is the server's explanation when
// it sent one.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

// UserMessage is the text shown to the operator.
func (e *APIError) UserMessage() string { return e.Message }

// Unauthorized reports whether the server rejected the credentials.
func (e *APIError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

func (c *Client) ListStatuses(ctx context.Context) ([]domain.Status, error) {
	var resp struct {
		Items []domain.Status `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "request-status", nil, &resp)
	return resp.Items, err
}

func (c *Client) ListRequests(ctx context.Context) ([]domain.Request, error) {
	var resp struct {
		Items []wireRequest `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "requests", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Request, 0, len(resp.Items))
	for _, w := range resp.Items {
		out = append(out, w.normalize())
	}
	return out, nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	var resp struct {
		Data wireRequest `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil, &resp)
	return resp.Data.normalize(), err
}

func (c *Client) CreateRequest(ctx context.Context, in domain.NewRequest) (domain.Request, error) {
	var resp struct {
		Data wireRequest `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp.Data.normalize(), err
}

func (c *Client) UpdateRequest(ctx context.Context, id string, patch domain.RequestPatch) (domain.Request, error) {
	var resp struct {
		Item wireRequest `json:"item"`
	}
	err := c.do(ctx, http.MethodPatch, "requests/"+url.PathEscape(id), patch, &resp)
	return resp.Item.normalize(), err
}

func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "requests/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListAssignmentsByRequest(ctx context.Context, requestID string) ([]domain.Assignment, error) {
	var resp struct {
		Data []domain.Assignment `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "request-assignments?requestId="+url.QueryEscape(requestID), nil, &resp)
	return resp.Data, err
}

func (c *Client) Assign(ctx context.Context, requestID, assigneeID string, note *string) error {
	body := assignBody{AssignedTo: assigneeID, Note: note}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("board/%s/assign", url.PathEscape(requestID)), body, nil)
}

func (c *Client) ChangeStatus(ctx context.Context, requestID, targetStatusID string, note *string) error {
	body := statusBody{ToStatusID: targetStatusID, Note: note}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("board/%s/status", url.PathEscape(requestID)), body, nil)
}

func (c *Client) ListRequestTypes(ctx context.Context) ([]domain.RequestType, error) {
	var resp struct {
		Items []domain.RequestType `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "request-types", nil, &resp)
	return resp.Items, err
}

func (c *Client) ListPriorities(ctx context.Context) ([]domain.Priority, error) {
	var resp struct {
		Items []domain.Priority `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "request-priorities", nil, &resp)
	return resp.Items, err
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var resp struct {
		Items []domain.User `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "users", nil, &resp)
	return resp.Items, err
}

// AuthUser is the user record returned by login.
type AuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	RoleCode string `json:"roleCode"`
}

// User converts the login payload into the directory record.
func (u AuthUser) User() domain.User {
	return domain.User{ID: u.ID, Username: u.Username, FullName: u.FullName, Email: u.Email, RoleCode: u.RoleCode, IsActive: true}
}

// Login exchanges credentials for a token and stores the resulting session.
func (c *Client) Login(ctx context.Context, username, password string) (session.Session, error) {
	var resp struct {
		Data struct {
			AccessToken string   `json:"accessToken"`
			User        AuthUser `json:"user"`
		} `json:"data"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.send(ctx, http.MethodPost, "auth/login", body, &resp, false); err != nil {
		return session.Session{}, err
	}
	if resp.Data.AccessToken == "" {
		return session.Session{}, errors.New("login response carried no token")
	}
	s := session.Session{Token: resp.Data.AccessToken, User: resp.Data.User.User()}
	if c.Session != nil {
		if err := c.Session.Set(s); err != nil {
			return s, fmt.Errorf("store session: %w", err)
		}
	}
	return s, nil
}

// Logout forgets the stored session.
func (c *Client) Logout() error {
	if c.Session == nil {
		return nil
	}
	return c.Session.Clear()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.send(ctx, method, endpoint, body, out, true)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, out any, auth bool) error {
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth && c.Session != nil {
		if s, err := c.Session.Get(); err == nil {
			req.Header.Set("Authorization", "Bearer "+s.Token)
		}
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b), Message: errorMessage(b, resp.StatusCode, endpoint)}
		if auth && apiErr.Unauthorized() && c.Session != nil {
			_ = c.Session.Clear()
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// errorMessage prefers the message field of an error body, then its error
// field, then a generic line naming the status and path.
func errorMessage(body []byte, status int, endpoint string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("HTTP %d calling /%s", status, strings.TrimLeft(endpoint, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
