// Package client talks to the dms HTTP API. Every call is a single request
// and a single response; a call that times out leaves the server state
// unknown and fails with ErrTransient.
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

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// DefaultRequestTimeout bounds one API call when the config leaves it empty.
const DefaultRequestTimeout = 10 * time.Second

// Client is a REST client bound to one server and one session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	session *Session
	timeout time.Duration
}

// NewClient creates a client for the server at serverURL.
func NewClient(serverURL string, session *Session, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("server url is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", serverURL)
	}
	if session == nil {
		session = NewSession("")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{},
		session: session,
		timeout: timeout,
	}, nil
}

// NewClientFromConfig creates a client from the [client] config section.
func NewClientFromConfig(cfg config.ClientConfig) (*Client, error) {
	timeout, err := config.ParseDurationOrDefault("client.request_timeout", cfg.RequestTimeout, DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg.ServerURL, NewSession(cfg.Token), timeout)
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *Session { return c.session }

// CheckConnection asks the server whether it is up. It needs no token.
func (c *Client) CheckConnection(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/check_connection", nil, nil)
}

type loginRequest struct {
	Email string `json:"email"`
}

// Login registers the session's identity on first use and fills the
// session with the account. email is sent as the request's email field and
// defaults to the session's known account; the server always takes the
// identity from the token.
func (c *Client) Login(ctx context.Context, email string) (*dms.User, error) {
	if email == "" {
		if u, ok := c.session.User(); ok {
			email = u.Email
		}
	}
	var u dms.User
	if err := c.do(ctx, http.MethodPost, "/login", loginRequest{Email: email}, &u); err != nil {
		return nil, err
	}
	c.session.setUser(u)
	return &u, nil
}

// Logout clears the session. Nothing is sent to the server.
func (c *Client) Logout() {
	c.session.Clear()
}

type namesResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserNames returns the account's first and last name.
func (c *Client) UserNames(ctx context.Context) (first, last string, err error) {
	var out namesResponse
	if err := c.do(ctx, http.MethodGet, "/get_user_names", nil, &out); err != nil {
		return "", "", err
	}
	return out.FirstName, out.LastName, nil
}

// ChangeName replaces the account's names with "First Last".
func (c *Client) ChangeName(ctx context.Context, newName string) (first, last string, err error) {
	var out namesResponse
	in := map[string]string{"new_name": newName}
	if err := c.do(ctx, http.MethodPost, "/change_name", in, &out); err != nil {
		return "", "", err
	}
	c.session.setNames(out.FirstName, out.LastName)
	return out.FirstName, out.LastName, nil
}

// Unlock returns the records filed under code. A wrong code yields an empty
// list.
func (c *Client) Unlock(ctx context.Context, code string) ([]*dms.EmailRecord, error) {
	var out struct {
		Emails []*dms.EmailRecord `json:"emails"`
	}
	if err := c.do(ctx, http.MethodPost, "/request_emails", map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	if out.Emails == nil {
		out.Emails = []*dms.EmailRecord{}
	}
	return out.Emails, nil
}

// Create arms a new record.
func (c *Client) Create(ctx context.Context, in dms.NewEmail) (*dms.EmailRecord, error) {
	var rec dms.EmailRecord
	if err := c.do(ctx, http.MethodPost, "/add_email_data", in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SubmitChanges sends a change set and returns the server-computed
// triggers.
func (c *Client) SubmitChanges(ctx context.Context, code string, changes []dms.Patch) ([]dms.Confirmed, error) {
	in := struct {
		Code    string      `json:"code"`
		Changes []dms.Patch `json:"changes"`
	}{Code: code, Changes: changes}
	var out struct {
		Success []dms.Confirmed `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "/change_email_data", in, &out); err != nil {
		return nil, err
	}
	return out.Success, nil
}

// Delete removes the record id filed under code.
func (c *Client) Delete(ctx context.Context, id, code string) error {
	return c.do(ctx, http.MethodPost, "/delete_email_data", map[string]string{"id": id, "code": code}, nil)
}

// Checkin postpones every record filed under code and returns how many were
// touched.
func (c *Client) Checkin(ctx context.Context, code string) (int, error) {
	var out struct {
		Amount int `json:"amount"`
	}
	if err := c.do(ctx, http.MethodPost, "/checkin", map[string]string{"code": code}, &out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.session.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, classify(ctx, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, classify(ctx, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
		if transientStatus(resp.StatusCode) {
			return fmt.Errorf("%s %s: %w: %w", method, path, ErrTransient, apiErr)
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// AsAPIError returns the server response behind err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
