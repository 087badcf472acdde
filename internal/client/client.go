// Package client is a Go client for the attendance API. It keeps the caller's
// login in a Session and drops it when the server stops accepting the token.
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
	"strconv"
	"strings"
	"time"

	"instaq/internal/apperr"
	"instaq/internal/attendance"
	"instaq/internal/users"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Violations []apperr.Violation
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers use errors.Is with the apperr sentinels and
// apperr.AsValidation on 400 answers.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return &apperr.ValidationError{Violations: e.Violations}
	case http.StatusUnauthorized:
		return apperr.ErrUnauthenticated
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict:
		return apperr.ErrConflict
	}
	return nil
}

// Client calls the attendance API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Session *Session
}

// New creates a client with a 15s timeout. A nil session gets an in-memory one.
func New(baseURL string, session *Session) *Client {
	if session == nil {
		session = NewSession(nil)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Session: session,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    json.RawMessage    `json:"data"`
	Errors  []apperr.Violation `json:"errors"`
}

type authResponse struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	User         users.User `json:"user"`
}

// Signup registers a staff account and signs in as it.
func (c *Client) Signup(ctx context.Context, in users.RegisterInput) (users.User, error) {
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", in, &out, false); err != nil {
		return users.User{}, err
	}
	return out.User, c.Session.Save(ctx, out.Token, out.RefreshToken, out.User)
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (users.User, error) {
	var out authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out, false); err != nil {
		return users.User{}, err
	}
	return out.User, c.Session.Save(ctx, out.Token, out.RefreshToken, out.User)
}

// Refresh exchanges the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) error {
	refresh, err := c.Session.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refresh == "" {
		return apperr.ErrUnauthenticated
	}
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refresh}, &out, false); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			_ = c.Session.Clear(ctx)
		}
		return err
	}
	return c.Session.Save(ctx, out.Token, out.RefreshToken, out.User)
}

// Logout revokes the tokens server side. The session is cleared even when
// the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	refresh, _ := c.Session.RefreshToken(ctx)
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": refresh}, nil, true)
	if clearErr := c.Session.Clear(ctx); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// Me fetches the signed-in profile and refreshes the cached copy.
func (c *Client) Me(ctx context.Context) (users.User, error) {
	var u users.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u, true); err != nil {
		return users.User{}, err
	}
	return u, c.Session.SaveProfile(ctx, u)
}

// ScanRequest is what a scanner submits. Location and Notes are optional.
type ScanRequest struct {
	QRCodeData attendance.QRCodeData `json:"qrCodeData"`
	Location   *attendance.GeoPoint  `json:"location,omitempty"`
	Notes      string                `json:"notes,omitempty"`
}

// ScanResult is the stored record and its head-count summary.
type ScanResult struct {
	Attendance attendance.Record  `json:"attendance"`
	Summary    attendance.Summary `json:"summary"`
}

// SubmitScan logs attendance for a scanned QR code.
func (c *Client) SubmitScan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	var out ScanResult
	err := c.do(ctx, http.MethodPost, "/api/attendance/scan", req, &out, true)
	return out, err
}

// ListQuery filters and pages List. Zero values are omitted.
type ListQuery struct {
	Date   string
	Status attendance.Status
	Page   int
	Limit  int
}

func (q ListQuery) encode() string {
	v := url.Values{}
	if q.Date != "" {
		v.Set("date", q.Date)
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) List(ctx context.Context, q ListQuery) (attendance.Page, error) {
	var out attendance.Page
	err := c.do(ctx, http.MethodGet, "/api/attendance"+q.encode(), nil, &out, true)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (attendance.Record, error) {
	var out attendance.Record
	err := c.do(ctx, http.MethodGet, "/api/attendance/"+url.PathEscape(id), nil, &out, true)
	return out, err
}

// Stats returns head counts, for one date when date is not empty.
func (c *Client) Stats(ctx context.Context, date string) (attendance.Stats, error) {
	path := "/api/attendance/stats"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out attendance.Stats
	err := c.do(ctx, http.MethodGet, path, nil, &out, true)
	return out, err
}

// UpdateStatus changes a record's status. Admin only.
func (c *Client) UpdateStatus(ctx context.Context, id string, status attendance.Status, notes *string) (attendance.Record, error) {
	body := struct {
		Status attendance.Status `json:"status"`
		Notes  *string           `json:"notes,omitempty"`
	}{status, notes}
	var out attendance.Record
	err := c.do(ctx, http.MethodPut, "/api/attendance/"+url.PathEscape(id)+"/status", body, &out, true)
	return out, err
}

// Delete removes a record. Admin only.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/attendance/"+url.PathEscape(id), nil, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.Session.Token(ctx)
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized && authed {
			_ = c.Session.Clear(ctx)
		}
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Violations: env.Errors}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
