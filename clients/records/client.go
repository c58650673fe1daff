package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	loginPath         = "/auth/login"
	currentUserPath   = "/auth/me"
	logoutPath        = "/auth/logout"
	profileStatusPath = "/doctors/me/profile-status"

	maxErrorBodyBytes = 4 << 10
)

// ErrUnauthorized matches any 401 or 403 answer from the records backend.
var ErrUnauthorized = errors.New("records: unauthorized")

// APIError is a non-2xx answer from the records backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("records: status %d", e.StatusCode)
	}
	return fmt.Sprintf("records: status %d: %s", e.StatusCode, e.Message)
}

// Is lets callers test for ErrUnauthorized with errors.Is.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Config holds the connection settings for the records backend.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// User is the account representation returned by the backend.
type User struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	FullName         string  `json:"full_name"`
	Role             string  `json:"role"`
	IsActive         *bool   `json:"is_active,omitempty"`
	AssignedDoctorID *string `json:"assigned_doctor_id,omitempty"`
}

// DisplayName picks the best human-readable name available.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Email
}

// LoginResponse is the body of a successful credential exchange.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileStatusResponse struct {
	HasCompletedProfile bool `json:"has_completed_profile"`
}

type errorResponse struct {
	Detail  interface{} `json:"detail"`
	Message string      `json:"message"`
}

// Client talks to the records REST backend with retries on transport errors
// and 5xx answers.
type Client struct {
	client  *retryablehttp.Client
	baseURL string
	logger  *zap.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	retryClient.HTTPClient.Timeout = cfg.Timeout

	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying records request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("attempt", attempt))
		}
	}

	return &Client{
		client:  retryClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// BaseURL returns the configured backend root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for an access token and the user profile.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, loginPath, "", loginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("records: login response missing access token")
	}
	return &out, nil
}

// CurrentUser resolves an access token to its user.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, currentUserPath, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the remote session for token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, logoutPath, token, nil, nil)
}

// ProfileStatus reports whether the doctor behind token has completed their profile.
func (c *Client) ProfileStatus(ctx context.Context, token string) (bool, error) {
	var out profileStatusResponse
	if err := c.do(ctx, http.MethodGet, profileStatusPath, token, nil, &out); err != nil {
		return false, err
	}
	return out.HasCompletedProfile, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body interface{}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("records: encode request: %w", err)
		}
		body = raw
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("records: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("records: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("records: decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return apiErr
	}

	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}

	switch detail := body.Detail.(type) {
	case string:
		apiErr.Message = detail
	case nil:
		apiErr.Message = body.Message
	default:
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = "request rejected"
		}
	}
	return apiErr
}
