// Package apiclient is a small HTTP client for the LocoInspect API, used by lococtl.
package apiclient

import (
	"errors"
	"fmt"
	"mime"
	"time"

	"locoinspect/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotLoggedIn is returned by calls that need a token before Login has succeeded.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status: %d)", e.Message, e.Status)
}

type errorBody struct {
	Error string `json:"error"`
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string            `json:"token"`
	RefreshToken string            `json:"refresh_token"`
	User         models.PublicUser `json:"user"`
}

// Inspections is the inspections list response.
type Inspections struct {
	Inspections []models.Inspection `json:"inspections"`
	Count       int                 `json:"count"`
	Total       int                 `json:"total"`
}

// Client talks to one server. It is not safe for concurrent Login calls.
type Client struct {
	http   *resty.Client
	token  string
	user   models.PublicUser
	logger *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// SetToken reuses an access token from an earlier Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string { return c.token }

// User is the account of the last successful Login.
func (c *Client) User() models.PublicUser { return c.user }

// Login opens a session as user (id or HRMS id).
func (c *Client) Login(user, password string) error {
	var result loginResponse
	resp, err := c.http.R().
		SetBody(loginRequest{User: user, Password: password}).
		SetResult(&result).
		SetError(&errorBody{}).
		Post("/api/login")
	if err := check(resp, err); err != nil {
		return err
	}

	c.token = result.Token
	c.user = result.User
	c.logger.Debug("Logged in", zap.String("user_id", result.User.ID), zap.String("role", string(result.User.Role)))
	return nil
}

// Logout closes the session.
func (c *Client) Logout() error {
	req, err := c.authed()
	if err != nil {
		return err
	}
	resp, err := req.Post("/api/logout")
	if err := check(resp, err); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// LoginUsers lists the accounts offered on the login screen.
func (c *Client) LoginUsers() ([]models.PublicUser, error) {
	var users []models.PublicUser
	resp, err := c.http.R().
		SetResult(&users).
		SetError(&errorBody{}).
		Get("/api/login/users")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return users, nil
}

// Inspections lists inspections matching the loco substring and ISO date (both optional).
func (c *Client) Inspections(loco, date string) (Inspections, error) {
	var result Inspections
	req, err := c.authed()
	if err != nil {
		return result, err
	}
	resp, err := req.
		SetQueryParams(filterParams(loco, date)).
		SetResult(&result).
		Get("/api/inspections")
	if err := check(resp, err); err != nil {
		return Inspections{}, err
	}
	return result, nil
}

// Export downloads the filtered inspections in format ("csv", "html" or "xlsx").
// It returns the server's suggested file name and the file body.
func (c *Client) Export(format, loco, date string) (string, []byte, error) {
	req, err := c.authed()
	if err != nil {
		return "", nil, err
	}
	params := filterParams(loco, date)
	params["format"] = format

	resp, err := req.SetQueryParams(params).Get("/api/inspections/export")
	if err := check(resp, err); err != nil {
		return "", nil, err
	}
	return fileName(resp.Header().Get("Content-Disposition")), resp.Body(), nil
}

func (c *Client) authed() (*resty.Request, error) {
	if c.token == "" {
		return nil, ErrNotLoggedIn
	}
	return c.http.R().SetAuthToken(c.token).SetError(&errorBody{}), nil
}

func filterParams(loco, date string) map[string]string {
	params := map[string]string{}
	if loco != "" {
		params["loco"] = loco
	}
	if date != "" {
		params["date"] = date
	}
	return params
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	message := resp.Status()
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		message = body.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: message}
}

func fileName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
